package rag

import (
	"fmt"
	"strings"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
)

// groundingInstruction pins the model to the retrieved passages. Every
// answer path goes through it; skill overlays only append to it.
const groundingInstruction = `You are StudyHall, a tutor for the Physical AI and Humanoid Robotics textbook.

Rules:
1. Answer ONLY from the numbered context passages provided. Never use outside knowledge.
2. Mark every fact with the marker of the passage it came from, like [S1] or [S3].
3. If the passages do not answer the question, say you do not have that information in the textbook. Do not guess.
4. Answer in the language of the question (English or Urdu).
5. Keep answers clear, educational, and concise.`

// defaultTopics backs the decline message when the content graph is absent
// or empty.
var defaultTopics = map[domain.Language][]string{
	domain.LangEnglish: {
		"Introduction to Physical AI",
		"Sensors and Perception",
		"Actuators and Motion",
		"Control Systems",
		"Humanoid Robotics",
	},
	domain.LangUrdu: {
		"فزیکل اے آئی کا تعارف",
		"سینسرز اور ادراک",
		"ایکچویٹرز اور حرکت",
		"کنٹرول سسٹمز",
		"ہیومنائیڈ روبوٹکس",
	},
}

// declineText is the answer when retrieval finds nothing relevant.
func declineText(lang domain.Language, topics []string) string {
	list := strings.Join(topics, ", ")
	if lang == domain.LangUrdu {
		msg := "مجھے نصابی کتاب میں اس بارے میں معلومات نہیں ملیں۔"
		if list != "" {
			msg += " میں ان موضوعات میں مدد کر سکتا ہوں: " + list + "۔"
		}
		return msg
	}
	msg := "I don't have information about that in the textbook."
	if list != "" {
		msg += " Here are some topics I can help with: " + list + "."
	}
	return msg
}

// unavailableText is the degraded answer when the model provider is down.
func unavailableText(lang domain.Language) string {
	if lang == domain.LangUrdu {
		return "جواب دینے کی سروس عارضی طور پر دستیاب نہیں ہے۔ براہ کرم کچھ دیر بعد دوبارہ کوشش کریں۔"
	}
	return "The answer service is temporarily unavailable. Please try again shortly."
}

// buildPrompt assembles the user-side prompt: context passages, the trimmed
// conversation window, an optional highlighted passage, then the question.
func buildPrompt(req Request, windowText string) string {
	var b strings.Builder

	b.WriteString("Context passages from the textbook:\n\n")
	parts := make([]string, len(req.Hits))
	for i, h := range req.Hits {
		parts[i] = fmt.Sprintf("[S%d] %s - %s\n%s", i+1, h.Chunk.DocTitle, h.Chunk.SectionTitle, h.Chunk.Text)
	}
	b.WriteString(strings.Join(parts, "\n\n---\n\n"))

	if windowText != "" {
		b.WriteString("\n\nRecent conversation (most recent first):\n")
		b.WriteString(windowText)
	}

	if req.Selection != "" {
		b.WriteString("\n\nThe learner highlighted this passage:\n\"")
		b.WriteString(req.Selection)
		b.WriteString("\"")
	}

	fmt.Fprintf(&b, "\n\nQuestion (%s): %s\n", req.Language, req.Question)
	b.WriteString("\nAnswer from the context above, marking each fact with its [S#] passage marker.")
	return b.String()
}
