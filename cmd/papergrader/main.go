package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/studykit/papergrader/internal/export"
	"github.com/studykit/papergrader/internal/extract"
	"github.com/studykit/papergrader/internal/grade"
	"github.com/studykit/papergrader/internal/handler"
	"github.com/studykit/papergrader/internal/llm"
	"github.com/studykit/papergrader/internal/model"
	"github.com/studykit/papergrader/internal/source"
	"github.com/studykit/papergrader/internal/store"
)

func main() {
	// A .env next to the binary is the easiest place for API keys.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "papergrader",
		Short: "Extract and grade handwritten answer sheets with a vision LLM",
	}
	root.AddCommand(serveCmd(), extractCmd(), gradeCmd(), exportCmd())
	return root
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty = api.openai.com)")
	f.String("llm-key", "", "API key for the inference service")
	f.String("llm-model", "gpt-4o-mini", "Text model for key parsing and grading")
	f.String("vision-model", "gpt-4o", "Multimodal model for page extraction")
	f.Duration("call-timeout", 2*time.Minute, "Per-inference-call timeout")
	f.Float64("rate-limit", 0, "Max inference requests per second (0 = unlimited)")
	f.Int("page-concurrency", 5, "Concurrent page extractions per document")
	f.Int("student-concurrency", 3, "Concurrent student submissions per grading run")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "papergrader.db", "SQLite database path for grading runs")
	addLLMFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract consolidated answers from one document",
		RunE:  runExtract,
	}
	f := cmd.Flags()
	f.StringP("input", "i", "", "Directory of page images, ordered by filename (required)")
	f.StringP("output", "o", "-", "Output file for the extraction JSON (- for stdout)")
	_ = cmd.MarkFlagRequired("input")
	addLLMFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade student papers against an answer key",
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.StringP("key", "k", "", "Answer key: directory of page images (required)")
	f.StringP("papers", "p", "", "Student papers: directory with one image or subdirectory per student (required)")
	f.String("db", "papergrader.db", "SQLite database path for grading runs (empty = don't save)")
	f.StringP("output", "o", "-", "Output file for the report JSON (- for stdout)")
	f.String("xlsx", "", "Also write the results spreadsheet to this path")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("papers")
	addLLMFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a saved grading run as a spreadsheet",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "papergrader.db", "SQLite database path")
	f.String("run", "", "Grading run ID (required)")
	f.StringP("output", "o", "results.xlsx", "Output spreadsheet path")
	_ = cmd.MarkFlagRequired("run")
	addLogFlags(cmd)
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PAPERGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("papergrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/papergrader")
	v.AddConfigPath("/etc/papergrader")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func clientFromViper(v *viper.Viper) *llm.Client {
	return llm.New(llm.Config{
		BaseURL:     v.GetString("llm-url"),
		APIKey:      v.GetString("llm-key"),
		Model:       v.GetString("llm-model"),
		VisionModel: v.GetString("vision-model"),
		Timeout:     v.GetDuration("call-timeout"),
		RateLimit:   v.GetFloat64("rate-limit"),
	})
}

func processorFromViper(v *viper.Viper, client *llm.Client) *extract.Processor {
	return extract.New(client,
		extract.WithPageConcurrency(v.GetInt("page-concurrency")),
		extract.WithDocumentConcurrency(v.GetInt("student-concurrency")),
	)
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	client := clientFromViper(v)
	if err := client.Ping(cmd.Context()); err != nil {
		return err
	}
	slog.Info("LLM endpoint OK", "model", v.GetString("llm-model"), "vision_model", v.GetString("vision-model"))

	processor := processorFromViper(v, client)
	grader := grade.New(client,
		grade.WithProcessor(processor),
		grade.WithStudentConcurrency(v.GetInt("student-concurrency")),
	)
	h := handler.New(processor, grader, db)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"page_concurrency", v.GetInt("page-concurrency"),
		"student_concurrency", v.GetInt("student-concurrency"),
	)
	return http.ListenAndServe(addr, r)
}

func runExtract(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	client := clientFromViper(v)
	processor := processorFromViper(v, client)

	result, err := processor.ProcessDocument(cmd.Context(), source.DirSource{Dir: v.GetString("input")})
	if err != nil {
		return err
	}
	return writeJSON(v.GetString("output"), result)
}

func runGrade(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	client := clientFromViper(v)
	processor := processorFromViper(v, client)

	submissions, err := submissionsFromDir(v.GetString("papers"))
	if err != nil {
		return err
	}
	if len(submissions) == 0 {
		return fmt.Errorf("no student papers found in %s", v.GetString("papers"))
	}

	bar := progressbar.Default(int64(len(submissions)), "grading")
	grader := grade.New(client,
		grade.WithProcessor(processor),
		grade.WithStudentConcurrency(v.GetInt("student-concurrency")),
		grade.WithProgress(func(model.StudentResult) { _ = bar.Add(1) }),
	)

	report, err := grader.Run(cmd.Context(), source.DirSource{Dir: v.GetString("key")}, submissions)
	if err != nil {
		return err
	}
	_ = bar.Finish()

	printSummary(report)

	if dbPath := v.GetString("db"); dbPath != "" {
		db, err := store.New(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		id, err := db.SaveReport(report)
		if err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		slog.Info("grading run saved", "run_id", id)
	}

	if xlsxPath := v.GetString("xlsx"); xlsxPath != "" {
		data, err := export.Excel(report)
		if err != nil {
			return fmt.Errorf("render spreadsheet: %w", err)
		}
		if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
			return fmt.Errorf("write spreadsheet: %w", err)
		}
		slog.Info("spreadsheet written", "path", xlsxPath)
	}

	return writeJSON(v.GetString("output"), report)
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	report, err := db.GetReport(v.GetString("run"))
	if err != nil {
		return fmt.Errorf("load run %s: %w", v.GetString("run"), err)
	}

	data, err := export.Excel(report)
	if err != nil {
		return fmt.Errorf("render spreadsheet: %w", err)
	}
	outPath := v.GetString("output")
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write spreadsheet: %w", err)
	}
	slog.Info("spreadsheet written", "path", outPath)
	return nil
}

// submissionsFromDir builds one submission per entry in dir: a
// subdirectory is a multi-page paper, a loose image file a single-page one.
func submissionsFromDir(dir string) ([]source.Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read papers dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	byName := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
		byName[e.Name()] = e
	}
	sort.Strings(names)

	var submissions []source.Source
	for _, name := range names {
		e := byName[name]
		path := filepath.Join(dir, name)
		switch {
		case e.IsDir():
			submissions = append(submissions, source.DirSource{Dir: path})
		case source.IsImagePath(name):
			submissions = append(submissions, source.FileSource{DocName: name, Paths: []string{path}})
		}
	}
	return submissions, nil
}

func printSummary(report model.GradingReport) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("\n%s assessment, %d students: %s ok, %s failed\n",
		report.AssessmentType, report.TotalStudents,
		green(report.Successful), red(report.Failed))

	for _, res := range report.Results {
		if res.Success {
			fmt.Printf("  %s  %s (%s)  %g/%g\n",
				green("ok"), res.StudentName, res.RollNumber, res.TotalObtained, res.TotalMax)
		} else {
			fmt.Printf("  %s  %s: %s\n", red("fail"), res.Filename, res.Error)
		}
	}
}

func writeJSON(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
