package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcourtman/shopbot/internal/llm"
)

// Intents a customer message may be classified as.
const (
	IntentOrderTracking    = "order_tracking"
	IntentProductQuestion  = "product_question"
	IntentShippingQuestion = "shipping_question"
	IntentReturnQuestion   = "return_question"
	IntentComplaint        = "complaint"
	IntentGeneralInquiry   = "general_inquiry"
)

var knownIntents = []string{
	IntentOrderTracking,
	IntentProductQuestion,
	IntentShippingQuestion,
	IntentReturnQuestion,
	IntentComplaint,
	IntentGeneralInquiry,
}

const intentMaxTokens = 100

func intentPrompt(message string) string {
	return fmt.Sprintf(`Analyze this customer message and categorize it into ONE of these intents:
- %s

Message: %q

Respond with ONLY the intent category, nothing else.`, strings.Join(knownIntents, "\n- "), message)
}

// DetectIntent classifies message. Answers outside the known set become
// general_inquiry.
func (s *Service) DetectIntent(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}

	resp, err := s.provider.Chat(ctx, llm.ChatRequest{
		Model:     s.cfg.Model,
		MaxTokens: intentMaxTokens,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: intentPrompt(message)}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return NormalizeIntent(resp.Content), nil
}

// NormalizeIntent maps a raw model answer onto a known intent.
func NormalizeIntent(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.Trim(cleaned, " \t\n\"'`.")
	for _, intent := range knownIntents {
		if cleaned == intent {
			return intent
		}
	}
	// Models sometimes wrap the label in a sentence.
	for _, intent := range knownIntents {
		if strings.Contains(cleaned, intent) {
			return intent
		}
	}
	return IntentGeneralInquiry
}
