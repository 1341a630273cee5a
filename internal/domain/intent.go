package domain

// Intent is the conversational purpose assigned to one user message.
type Intent string

const (
	IntentFirstGreeting     Intent = "first_greeting"
	IntentRepeatedGreeting  Intent = "repeated_greeting"
	IntentIdentityQuestion  Intent = "identity_question"
	IntentTechnicalQuestion Intent = "technical_question"
	IntentShortQuestion     Intent = "short_question"
	IntentGeneralQuestion   Intent = "general_question"
)
