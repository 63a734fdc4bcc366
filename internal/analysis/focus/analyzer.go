package focus

import (
	"strings"

	"github.com/zhouzirui/career-counsel/backend/internal/model/focus"
)

// Decision 给出侧重点识别结果以及命中得分。
type Decision struct {
	Focus string `json:"focus"`
	Score int    `json:"score"`
}

var keywordBuckets = map[string][]string{
	focus.Interview: {
		"面试", "模拟面试", "面试官", "自我介绍", "八股", "行为面试", "群面", "终面", "offer",
		"interview", "mock interview", "interviewer", "behavioral", "behavioural", "star method",
		"system design", "leetcode", "onsite", "phone screen", "hiring manager",
	},
	focus.Resume: {
		"简历", "履历", "求职信", "作品集", "项目经历", "工作经历", "简历优化",
		"resume", "résumé", "my cv", "cover letter", "portfolio", "bullet point", "ats-friendly", "linkedin profile",
	},
	focus.Path: {
		"转行", "转岗", "职业规划", "职业发展", "晋升", "发展方向", "跳槽", "技能树", "学习路线", "读研",
		"career path", "career change", "switch careers", "transition", "promotion", "roadmap",
		"upskill", "reskill", "skill gap", "long term", "five years", "grow into",
	},
}

// questionBoost 疑问句对规划类话题略有加权。
var questionBoost = map[string]int{
	focus.Path: 1,
}

// Detect 根据用户消息推断最合适的对话侧重点，没有明显信号时返回 general。
func Detect(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Focus: focus.General}
	}

	scores := make(map[string]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				// 多词短语比单个词更可信
				scores[label] += 2 + strings.Count(word, " ")
			}
		}
	}

	if scores[focus.Path] > 0 && (strings.Contains(text, "?") || strings.Contains(text, "？")) {
		scores[focus.Path] += questionBoost[focus.Path]
	}

	best := Decision{Focus: focus.General}
	// 固定顺序遍历，得分相同时结果稳定
	for _, label := range []string{focus.Interview, focus.Resume, focus.Path} {
		if s := scores[label]; s > best.Score {
			best = Decision{Focus: label, Score: s}
		}
	}
	return best
}
