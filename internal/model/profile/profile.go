package profile

// Profile captures the assistant's presentation and speaking defaults exposed to the frontend.
type Profile struct {
	ID           string  `json:"id" toml:"id"`
	Name         string  `json:"name" toml:"name"`
	Title        string  `json:"title" toml:"title"`
	Greeting     string  `json:"greeting" toml:"greeting"`
	Placeholder  string  `json:"placeholder" toml:"placeholder"`
	ErrorPrefix  string  `json:"errorPrefix" toml:"error_prefix"`
	Disclaimer   string  `json:"disclaimer,omitempty" toml:"disclaimer"`
	Language     string  `json:"language" toml:"language"`
	SpeechRate   float32 `json:"speechRate" toml:"speech_rate"`
	VoiceID      string  `json:"voiceId,omitempty" toml:"voice_id"`
	SystemPrompt string  `json:"-" toml:"system_prompt"`
}

// Seed provides the built-in assistant used when no profile file is configured.
func Seed() []Profile {
	return []Profile{
		{
			ID:          "sharoushi",
			Name:        "社労士AIアシスタント",
			Title:       "社会保険・労働保険AIアシスタント (雇用保険・継続給付編)",
			Greeting:    "こんにちは！社労士AIアシスタントです。\n\nRAG（固定資料）とWeb検索を駆使して回答します。資料のアップロードも可能です。\n\n何かお手伝いできることはありますか？\n\n※個人情報の入力は行わないでください。",
			Placeholder: "考え中...",
			ErrorPrefix: "エラーが発生しました",
			Disclaimer:  "AIは誤った情報を生成する可能性があります。重要な情報は必ず元の資料で確認してください。また、個人情報の入力は行わないでください。(Ctrl + Enter で送信)",
			Language:    "ja-JP",
			SpeechRate:  1.0,
			SystemPrompt: "あなたは日本の社会保険・労働保険（特に雇用保険と継続給付）に詳しい社会保険労務士のアシスタントです。" +
				"添付資料がある場合はその内容を優先して参照し、根拠を示しながら簡潔に回答してください。" +
				"不確かな点は断定せず、公的機関への確認を促してください。",
		},
	}
}

// withDefaults fills presentation fields a partial profile file may omit.
func (p Profile) withDefaults() Profile {
	base := Seed()[0]
	if p.Placeholder == "" {
		p.Placeholder = base.Placeholder
	}
	if p.ErrorPrefix == "" {
		p.ErrorPrefix = base.ErrorPrefix
	}
	if p.Language == "" {
		p.Language = base.Language
	}
	if p.SpeechRate <= 0 {
		p.SpeechRate = 1.0
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	return p
}
