package focus

// 对话侧重点标识，同时用作提示词模板的 key。
const (
	General   = "general"
	Interview = "interview"
	Resume    = "resume"
	Path      = "career-path"
)

// Focus describes a counselling mode exposed to the frontend.
type Focus struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	OpeningLine  string   `json:"openingLine"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Catalog 返回前端可选的全部侧重点，顺序固定。
func Catalog() []Focus {
	return []Focus{
		{
			ID:          General,
			Title:       "Career counselling",
			Description: "Open conversation about goals, strengths and next steps.",
			OpeningLine: "Hi! Tell me a little about where you are in your career and what's on your mind.",
			Capabilities: []string{
				"clarify goals", "identify strengths", "plan next steps",
			},
		},
		{
			ID:          Interview,
			Title:       "Mock interview",
			Description: "Practice interview questions with structured feedback after each answer.",
			OpeningLine: "Let's run a mock interview. Which role and company should I interview you for?",
			Capabilities: []string{
				"behavioural questions", "technical questions", "answer feedback",
			},
		},
		{
			ID:          Resume,
			Title:       "Resume review",
			Description: "Sharpen bullet points, structure and positioning for a target role.",
			OpeningLine: "Paste a section of your resume and tell me the role you're targeting.",
			Capabilities: []string{
				"impact bullets", "keyword alignment", "section structure",
			},
		},
		{
			ID:          Path,
			Title:       "Career path planning",
			Description: "Explore role transitions, skill gaps and learning plans.",
			OpeningLine: "Where would you like to be in two to three years? Let's map the path there.",
			Capabilities: []string{
				"role transitions", "skill gap analysis", "learning plan",
			},
		},
	}
}

// Valid 报告 id 是否为已知侧重点。
func Valid(id string) bool {
	for _, f := range Catalog() {
		if f.ID == id {
			return true
		}
	}
	return false
}
