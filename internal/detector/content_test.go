package detector

import "testing"

func TestAnalyzeText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		category Category
		score    int
		ok       bool
	}{
		{
			name:     "traditional text",
			text:     "你好，這是一個測試。我們今天要學習的課題是關於電影的歷史。請問你覺得這部電影怎麼樣？我認為導演的選擇很專業。",
			category: CategoryCHT,
			score:    85,
			ok:       true,
		},
		{
			name:     "simplified text",
			text:     "你好，这是一个测试。我们今天要学习的课题是关于电影的历史。请问你觉得这部电影怎么样？我认为导演的选择很专业。",
			category: CategoryCHS,
			score:    -100,
			ok:       true,
		},
		{
			name: "no chinese at all",
			text: "Hello World",
		},
		{
			name: "no distinguishing characters",
			text: "你好嗎",
		},
		{
			name: "even mix is ambiguous",
			text: "這們時從開这们时从开",
		},
		{
			name:     "mostly traditional with noise",
			text:     "這們時從開長問進動現这们",
			category: CategoryCHT,
			score:    85,
			ok:       true,
		},
		{
			name:     "exactly 70 percent traditional",
			text:     "這們時從開長問这们时",
			category: CategoryCHT,
			score:    85,
			ok:       true,
		},
		{
			name:     "exactly 30 percent traditional",
			text:     "這們時这们时从开长问",
			category: CategoryCHS,
			score:    -100,
			ok:       true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, score, ok := AnalyzeText(tt.text)
			if ok != tt.ok {
				t.Fatalf("AnalyzeText() ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if cat != tt.category || score != tt.score {
				t.Errorf("AnalyzeText() = (%q, %d), want (%q, %d)", cat, score, tt.category, tt.score)
			}
		})
	}
}
