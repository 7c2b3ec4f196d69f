package extract

import "github.com/studykit/papergrader/internal/model"

// Consolidate merges answer fragments that share an answer number into one
// record per logical answer, in first-seen order.
//
// Grouping is by naive string identity: "1" and "01" are distinct keys on
// purpose, matching how answer numbers are transcribed. Within a group the
// content is joined in arrival order with a newline, the first fragment's
// type and confidence win, and every contributing page is recorded in
// arrival order without de-duplication.
func Consolidate(fragments []model.AnswerFragment) []model.ConsolidatedAnswer {
	grouped := make(map[string]*model.ConsolidatedAnswer)
	var order []string

	for _, f := range fragments {
		num := f.AnswerNumber
		if num == "" {
			num = "unknown"
		}

		if existing, ok := grouped[num]; ok {
			existing.Content += "\n" + f.Content
			existing.Pages = append(existing.Pages, f.SourcePage)
			continue
		}

		grouped[num] = &model.ConsolidatedAnswer{
			AnswerNumber: num,
			Content:      f.Content,
			AnswerType:   f.AnswerType,
			Confidence:   f.Confidence,
			Pages:        []int{f.SourcePage},
		}
		order = append(order, num)
	}

	answers := make([]model.ConsolidatedAnswer, 0, len(order))
	for _, num := range order {
		answers = append(answers, *grouped[num])
	}
	return answers
}
