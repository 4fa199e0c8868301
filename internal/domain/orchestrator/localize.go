package orchestrator

// localizedMessages carries the loop's handful of user-facing fallback
// strings (spec §4.4 "Termination & finalization" — emitted when the loop
// ends without ever producing a model-authored answer). Grounded on the
// teacher's agent_loop.go exitCodeHint, which keys a small fixed message
// set by a short string rather than pulling in a full i18n library for a
// handful of strings.
var localizedMessages = map[string]map[string]string{
	"en": {
		"max_rounds":        "Reached the maximum number of rounds without a final answer.",
		"empty_response":    "The model returned an empty response without a final answer.",
		"tool_failure_guard": "Stopping after the same tool call failed repeatedly.",
		"question_panel":    "Waiting for your selection.",
	},
	"zh": {
		"max_rounds":        "已达到最大轮次，但未得到最终答案。",
		"empty_response":    "模型返回了空响应，未得到最终答案。",
		"tool_failure_guard": "同一工具调用连续多次失败，已停止。",
		"question_panel":    "等待您的选择。",
	},
}

// localize looks up key for lang, falling back to English, and finally to
// the key itself if even English is somehow missing it.
func localize(lang, key string) string {
	if set, ok := localizedMessages[lang]; ok {
		if msg, ok := set[key]; ok {
			return msg
		}
	}
	if msg, ok := localizedMessages["en"][key]; ok {
		return msg
	}
	return key
}
