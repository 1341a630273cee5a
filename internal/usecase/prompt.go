package usecase

import (
	"fmt"
	"strings"

	"codetapasya-backend/internal/domain"
)

const (
	languageEnglish = "en"
	languageHindi   = "hi"
	languageTelugu  = "te"

	maxTranscriptTurns = 6
	defaultPromptName  = "User"
)

var personas = map[string]string{
	languageEnglish: strings.Join([]string{
		"You are CodeTapasya, the AI coding assistant of the CodeTapasya learning platform, built by the CodeTapasya Developers.",
		"Respond in English.",
		"Guidelines:",
		"1) Be concise by default; answer in a few sentences unless more is needed.",
		"2) Adapt the length of your answer to the question and the conversation so far.",
		"3) Keep greetings warm and brief.",
		"4) Give practical technical answers with short, correct code examples when useful.",
		"5) Remember what was said earlier in the conversation and build on it.",
		"6) Encourage the learner and celebrate progress.",
	}, "\n"),
	languageHindi: strings.Join([]string{
		"आप CodeTapasya हैं, CodeTapasya लर्निंग प्लेटफ़ॉर्म के AI कोडिंग सहायक, जिसे CodeTapasya Developers ने बनाया है।",
		"हिंदी में उत्तर दें।",
		"दिशानिर्देश:",
		"1) डिफ़ॉल्ट रूप से संक्षिप्त रहें; ज़रूरत न हो तो कुछ वाक्यों में उत्तर दें।",
		"2) उत्तर की लंबाई प्रश्न और अब तक की बातचीत के अनुसार रखें।",
		"3) अभिवादन गर्मजोशी भरा और छोटा रखें।",
		"4) तकनीकी प्रश्नों के व्यावहारिक उत्तर दें और उपयोगी हो तो छोटे, सही कोड उदाहरण दें।",
		"5) बातचीत में पहले कही गई बातों को याद रखें और उन्हीं पर आगे बढ़ें।",
		"6) सीखने वाले को प्रोत्साहित करें और उनकी प्रगति की सराहना करें।",
	}, "\n"),
	languageTelugu: strings.Join([]string{
		"మీరు CodeTapasya, CodeTapasya లెర్నింగ్ ప్లాట్‌ఫారమ్ యొక్క AI కోడింగ్ సహాయకుడు, CodeTapasya Developers నిర్మించారు.",
		"తెలుగులో సమాధానం ఇవ్వండి.",
		"మార్గదర్శకాలు:",
		"1) సాధారణంగా సంక్షిప్తంగా ఉండండి; అవసరం లేకపోతే కొన్ని వాక్యాల్లోనే సమాధానం ఇవ్వండి.",
		"2) ప్రశ్న మరియు ఇప్పటివరకు జరిగిన సంభాషణకు తగినట్లుగా సమాధానం పొడవును మార్చండి.",
		"3) శుభాకాంక్షలు ఆత్మీయంగా, క్లుప్తంగా ఉండాలి.",
		"4) సాంకేతిక ప్రశ్నలకు ఆచరణాత్మక సమాధానాలు ఇవ్వండి, ఉపయోగపడితే చిన్న, సరైన కోడ్ ఉదాహరణలు ఇవ్వండి.",
		"5) సంభాషణలో ముందుగా చెప్పిన విషయాలను గుర్తుంచుకుని వాటిపై కొనసాగించండి.",
		"6) నేర్చుకునేవారిని ప్రోత్సహించండి, వారి పురోగతిని ప్రశంసించండి.",
	}, "\n"),
}

// Each template receives the user name then the raw message.
var intentTemplates = map[domain.Intent]string{
	domain.IntentFirstGreeting:     "%s has just greeted you for the first time with: \"%s\". Reply with a warm, brief welcome, introduce yourself as CodeTapasya and ask what they would like to learn or build today.",
	domain.IntentRepeatedGreeting:  "%s greeted you again with: \"%s\". Acknowledge it in one short, friendly sentence without introducing yourself again and ask what they want to work on next.",
	domain.IntentIdentityQuestion:  "%s asked who you are: \"%s\". Explain in two or three sentences that you are CodeTapasya, the AI coding assistant built by the CodeTapasya Developers, and how you can help them.",
	domain.IntentTechnicalQuestion: "%s asked a technical question: \"%s\". Give a practical, accurate answer and include a short code example if it helps.",
	domain.IntentShortQuestion:     "%s sent a short message: \"%s\". Reply briefly and ask a clarifying question if their goal is unclear.",
	domain.IntentGeneralQuestion:   "%s asked: \"%s\". Answer helpfully and keep the length proportional to the question.",
}

// NormalizeLanguage maps a requested language code onto a supported persona.
func NormalizeLanguage(language string) string {
	switch lang := strings.ToLower(strings.TrimSpace(language)); lang {
	case languageHindi, languageTelugu:
		return lang
	default:
		return languageEnglish
	}
}

// Render builds the final instruction text for one request. recentTurns
// must be ordered oldest first; only the last six are used.
func Render(message string, recentTurns []domain.ConversationTurn, language string, intent domain.Intent, userName string, hints []string) string {
	name := strings.TrimSpace(userName)
	if name == "" {
		name = defaultPromptName
	}

	sections := []string{personas[NormalizeLanguage(language)]}
	if transcript := renderTranscript(recentTurns); transcript != "" {
		sections = append(sections, transcript)
	}

	template, ok := intentTemplates[intent]
	if !ok {
		template = intentTemplates[domain.IntentGeneralQuestion]
	}
	sections = append(sections, fmt.Sprintf(template, name, message))

	if len(hints) > 0 {
		lines := make([]string, 0, len(hints)+1)
		lines = append(lines, "Personalized user context:")
		for _, h := range hints {
			lines = append(lines, "- "+h)
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	sections = append(sections, fmt.Sprintf(
		"Respond naturally to %s. Use their name when appropriate and adapt your tone to their skill level.", name))
	return strings.Join(sections, "\n\n")
}

func renderTranscript(turns []domain.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	if len(turns) > maxTranscriptTurns {
		turns = turns[len(turns)-maxTranscriptTurns:]
	}
	lines := make([]string, 0, len(turns)+1)
	lines = append(lines, "Previous conversation:")
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", speakerLabel(t.Role), strings.TrimSpace(t.Content)))
	}
	return strings.Join(lines, "\n")
}

func speakerLabel(r domain.Role) string {
	if r == domain.RoleAssistant {
		return "Assistant"
	}
	return "User"
}
