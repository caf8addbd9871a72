package grader

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNoScoreMarker is returned when the assistant reply carries no recognized
// final-score line. The submission is treated as failed, never silently given
// a default grade.
var ErrNoScoreMarker = errors.New("reply has no final score marker")

// ErrScoreOutOfRange is returned when a marker is present but its value falls
// outside the 0-10 grading scale.
var ErrScoreOutOfRange = errors.New("score outside 0-10 range")

// scorePattern matches the marker the assistant prompts are instructed to
// emit. Both the Spanish and English variants are accepted, any case.
var scorePattern = regexp.MustCompile(`(?i)(?:NOTA\s+FINAL|FINAL\s+SCORE)\s*:\s*(\d+\.?\d*)`)

// ExtractScore scans an assistant reply for its final score marker. When the
// marker appears more than once the last occurrence wins, since assistants
// often restate the score in a closing summary.
func ExtractScore(reply string) (float64, error) {
	matches := scorePattern.FindAllStringSubmatch(reply, -1)
	if len(matches) == 0 {
		return 0, ErrNoScoreMarker
	}

	raw := matches[len(matches)-1][1]
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse score %q: %w", raw, err)
	}

	if score < 0 || score > 10 {
		return 0, fmt.Errorf("%w: %g", ErrScoreOutOfRange, score)
	}

	return score, nil
}

// replySchema describes the union of reply formats the service is known to
// emit. It is used purely as a diagnostic: a reply that fails validation is
// still processed if decodeReply can find text in it, but the drift gets
// surfaced to the caller for logging.
const replySchema = `{
  "type": "object",
  "anyOf": [
    {
      "required": ["choices"],
      "properties": {
        "choices": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "anyOf": [
              {"required": ["message"], "properties": {"message": {"type": "object", "required": ["content"]}}},
              {"required": ["text"]}
            ]
          }
        }
      }
    },
    {"required": ["content"]},
    {"required": ["text"]}
  ]
}`

var compiledReplySchema = jsonschema.MustCompileString("reply.json", replySchema)

// validateReplyShape checks a decoded reply body against the known formats.
func validateReplyShape(decoded interface{}) error {
	if err := compiledReplySchema.Validate(decoded); err != nil {
		return fmt.Errorf("reply shape drift: %w", err)
	}
	return nil
}

// buildPrompt assembles the grading prompt: the activity's evaluation
// instructions followed by the submission text.
func buildPrompt(instructions, submission string) string {
	var b strings.Builder
	if instructions != "" {
		b.WriteString(instructions)
		b.WriteString("\n\n")
	}
	b.WriteString(submission)
	return b.String()
}
