package career

// ResumeAnalysisRequest 简历点评请求，简历已由前端转成纯文本。
type ResumeAnalysisRequest struct {
	ResumeText string `json:"resumeText"`
	FileName   string `json:"fileName,omitempty"`
}

// ResumeAnalysis 简历点评结果，Markdown 格式。
type ResumeAnalysis struct {
	Feedback string `json:"feedback"`
}

// Profile 推荐岗位时参考的用户档案，字段沿用档案表的列名。
type Profile struct {
	FullName          string   `json:"full_name,omitempty"`
	JobTitle          string   `json:"job_title,omitempty"`
	YearsOfExperience int      `json:"years_of_experience,omitempty"`
	EducationLevel    string   `json:"education_level,omitempty"`
	FieldOfStudy      string   `json:"field_of_study,omitempty"`
	Skills            []string `json:"skills,omitempty"`
	CareerGoals       string   `json:"career_goals,omitempty"`
}

// RecommendationRequest 岗位推荐请求。
type RecommendationRequest struct {
	Profile    *Profile `json:"profile,omitempty"`
	CareerPath string   `json:"careerPath,omitempty"`
}

// Growth potential 取值。
const (
	GrowthLow    = "Low"
	GrowthMedium = "Medium"
	GrowthHigh   = "High"
)

// JobRecommendation 单条岗位推荐。
type JobRecommendation struct {
	Title           string   `json:"title"`
	CompanyType     string   `json:"companyType"`
	MatchScore      float64  `json:"matchScore"`
	Requirements    []string `json:"requirements"`
	WhyGoodFit      string   `json:"whyGoodFit"`
	SalaryRange     string   `json:"salaryRange"`
	GrowthPotential string   `json:"growthPotential"`
}

// Recommendations 岗位推荐结果。
type Recommendations struct {
	Recommendations []JobRecommendation `json:"recommendations"`
}
