package pipeline

import "regexp"

// Violation classifies a safety finding.
type Violation string

const (
	ViolationNone           Violation = "none"
	ViolationMedicalAdvice  Violation = "medical_advice"
	ViolationPersonalInfo   Violation = "personal_info"
	ViolationHarmfulContent Violation = "harmful_content"
	// ViolationOffTopic is produced by no current pattern but remains a valid
	// value for stored turn data.
	ViolationOffTopic Violation = "off_topic"
)

// CheckResult is the outcome of an input or output safety check.
type CheckResult struct {
	IsSafe          bool
	Violation       Violation
	Message         string
	RedactedContent string
}

const redactedMarker = "[REDACTED]"

// safetySystemPrompt is always the first system message of every LLM call.
const safetySystemPrompt = `You are a collaborative AI coach for healthcare professionals.

CRITICAL RULES YOU MUST FOLLOW:
1. NEVER provide medical diagnosis or treatment recommendations
2. NEVER suggest specific medications or clinical interventions
3. NEVER retain or ask for personal identifying information
4. ALWAYS redirect medical questions to appropriate professionals
5. ALWAYS maintain professional coaching boundaries

Your role is to ask thoughtful questions that help professionals explore their challenges, NOT to provide medical advice.

If the user asks for medical advice, respond with:
"I'm not able to provide medical advice or diagnoses. I'm here to help you explore your professional challenges and growth through coaching questions. Would you like to discuss how to approach this challenge from a professional development perspective?"

If you detect concerning content about self-harm, respond with:
"I want to make sure you're okay. If you're experiencing thoughts of self-harm, please reach out to a mental health professional or crisis helpline immediately. In the US, you can call 988 for the Suicide & Crisis Lifeline."
`

var fallbackResponses = map[Violation]string{
	ViolationMedicalAdvice: "I appreciate you sharing that with me. As an AI coach, I'm not able to " +
		"provide medical advice or diagnoses. However, I'd be happy to help you " +
		"explore this from a professional development perspective. What aspects " +
		"of this situation feel most challenging for you professionally?",
	ViolationHarmfulContent: "I want to make sure you're okay. If you're experiencing thoughts of " +
		"self-harm, please reach out to a mental health professional or crisis " +
		"helpline immediately. In the US, you can call 988 for the Suicide & " +
		"Crisis Lifeline. Would you like to talk about what's on your mind in " +
		"a different way?",
	ViolationOffTopic: "I'd like to bring our conversation back to your professional " +
		"development goals. What aspect of your AI readiness journey would " +
		"you like to explore?",
}

// Filter screens conversation content in both directions: user input before
// it reaches the model, model output before it reaches the user.
type Filter struct {
	medical  []*regexp.Regexp
	personal []*regexp.Regexp
	harmful  []*regexp.Regexp
}

// NewFilter compiles the pattern sets once.
func NewFilter() *Filter {
	return &Filter{
		medical: compileAll(
			`(?i)\b(diagnos(?:e|is|ing)|diagnosed)\b`,
			`(?i)\b(prescrib(?:e|ed|ing)|prescription)\b`,
			`(?i)\b(treat(?:ment|ing)?|treated)\b.*\b(condition|disease|illness)\b`,
			`(?i)\b(you (have|should take|need to take))\b.*\b(medication|medicine|drug)\b`,
			`(?i)\b(clinical (recommendation|advice))\b`,
		),
		personal: compileAll(
			`\b(\d{3}[-.]?\d{3}[-.]?\d{4})\b`,                      // phone numbers
			`\b([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})\b`, // email
			`\b(\d{3}[-]?\d{2}[-]?\d{4})\b`,                        // SSN
			`\b(\d{16})\b`,                                         // credit card (basic)
		),
		harmful: compileAll(
			`(?i)\b(kill|harm|hurt|injure)\s+(yourself|myself|themselves)\b`,
			`(?i)\b(suicide|self[- ]harm)\b`,
		),
	}
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// CheckInput screens a user message. Harmful content takes strict precedence
// and blocks the message. Personal information does not block: the message
// stays safe and RedactedContent carries a scrubbed copy.
func (f *Filter) CheckInput(content string) CheckResult {
	for _, re := range f.harmful {
		if re.MatchString(content) {
			return CheckResult{
				IsSafe:    false,
				Violation: ViolationHarmfulContent,
				Message:   "Content flagged for safety review",
			}
		}
	}

	for _, re := range f.personal {
		if re.MatchString(content) {
			return CheckResult{
				IsSafe:          true,
				Violation:       ViolationPersonalInfo,
				Message:         "Personal information detected and redacted",
				RedactedContent: re.ReplaceAllString(content, redactedMarker),
			}
		}
	}

	return CheckResult{IsSafe: true, Violation: ViolationNone}
}

// CheckOutput screens a model response for medical-advice language.
func (f *Filter) CheckOutput(content string) CheckResult {
	for _, re := range f.medical {
		if re.MatchString(content) {
			return CheckResult{
				IsSafe:    false,
				Violation: ViolationMedicalAdvice,
				Message:   "Response contains potential medical advice",
			}
		}
	}
	return CheckResult{IsSafe: true, Violation: ViolationNone}
}

// SanitizeInput scrubs all personal-information matches from content.
func (f *Filter) SanitizeInput(content string) string {
	result := content
	for _, re := range f.personal {
		result = re.ReplaceAllString(result, redactedMarker)
	}
	return result
}

// SystemPrompt returns the safety preamble prepended to every conversation.
func (f *Filter) SystemPrompt() string {
	return safetySystemPrompt
}

// FallbackResponse returns the canned reply for a violation. The second
// return is false for violations that have no fallback (none, personal_info).
func (f *Filter) FallbackResponse(v Violation) (string, bool) {
	resp, ok := fallbackResponses[v]
	return resp, ok
}
