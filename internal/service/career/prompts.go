package career

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	careerModel "github.com/zhouzirui/career-counsel/backend/internal/model/career"
)

const notSpecified = "Not specified"

// RecommendationTool 岗位推荐强制调用的函数名。
const RecommendationTool = "provide_job_recommendations"

const resumeSystemPrompt = `You are an expert resume reviewer and career advisor. Analyze the resume content provided and give comprehensive, actionable feedback.

Your analysis should include:

1. **Overall Impression** (2-3 sentences)
   - First impression of the resume
   - Professional presentation assessment

2. **Strengths** (3-5 bullet points)
   - What the resume does well
   - Effective sections or content

3. **Areas for Improvement** (3-5 bullet points with specific suggestions)
   - Missing information or sections
   - Content that could be enhanced
   - Formatting or structure issues

4. **ATS Optimization Tips**
   - Keyword suggestions based on their field
   - Formatting recommendations for ATS systems

5. **Action Items** (prioritized list)
   - Top 5 specific changes to make immediately

Be encouraging but honest. Provide specific examples when suggesting improvements.`

const resumeUserPrompt = "Please analyze this resume and provide detailed feedback:\n\n---\n{resume_text}\n---\n\nFile name: {file_name}"

const jobsSystemPrompt = `You are a career advisor AI that provides personalized job recommendations. Based on the user's profile and selected career path, suggest 5-8 specific job roles that would be a good fit.

For each job recommendation, provide:
1. Job Title
2. Company Type (e.g., Startup, Enterprise, Consulting, etc.)
3. Match Score (1-100 based on how well it fits the user's profile)
4. Key Requirements (3-4 bullet points)
5. Why It's a Good Fit (1-2 sentences)
6. Estimated Salary Range
7. Growth Potential (Low/Medium/High)

Return the recommendations through the provide_job_recommendations function.

Be specific and realistic based on the user's experience level and skills.`

const jobsUserPrompt = `Generate job recommendations for this candidate:

Profile:
{profile}

Selected Career Path: {career_path}

Provide job recommendations that align with their career path and experience level.`

// describeProfile 把档案渲染成提示词中的列表，缺失字段填 Not specified。
func describeProfile(p *careerModel.Profile) string {
	if p == nil {
		p = &careerModel.Profile{}
	}
	orDefault := func(v string) string {
		if v = strings.TrimSpace(v); v == "" {
			return notSpecified
		}
		return v
	}

	skills := notSpecified
	if len(p.Skills) > 0 {
		skills = strings.Join(p.Skills, ", ")
	}

	lines := []string{
		"- Name: " + orDefault(p.FullName),
		"- Current Role: " + orDefault(p.JobTitle),
		fmt.Sprintf("- Years of Experience: %d", p.YearsOfExperience),
		fmt.Sprintf("- Education: %s in %s", orDefault(strings.ReplaceAll(p.EducationLevel, "_", " ")), orDefault(p.FieldOfStudy)),
		"- Skills: " + skills,
		"- Career Goals: " + orDefault(p.CareerGoals),
	}
	return strings.Join(lines, "\n")
}

func recommendationToolInfo() *schema.ToolInfo {
	str := func(desc string) *schema.ParameterInfo {
		return &schema.ParameterInfo{Type: schema.String, Desc: desc, Required: true}
	}
	item := &schema.ParameterInfo{
		Type: schema.Object,
		SubParams: map[string]*schema.ParameterInfo{
			"title":       str("job title"),
			"companyType": str("e.g. Startup, Enterprise, Consulting"),
			"matchScore":  {Type: schema.Number, Desc: "1-100 fit with the profile", Required: true},
			"requirements": {
				Type:     schema.Array,
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
				Desc:     "3-4 key requirements",
				Required: true,
			},
			"whyGoodFit":  str("1-2 sentences"),
			"salaryRange": str("estimated salary range"),
			"growthPotential": {
				Type:     schema.String,
				Enum:     []string{careerModel.GrowthLow, careerModel.GrowthMedium, careerModel.GrowthHigh},
				Required: true,
			},
		},
	}

	return &schema.ToolInfo{
		Name: RecommendationTool,
		Desc: "Return job recommendations for the user",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"recommendations": {Type: schema.Array, ElemInfo: item, Required: true},
		}),
	}
}
