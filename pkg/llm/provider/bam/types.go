package bam

import "time"

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type parameters struct {
	DecodingMethod      string   `json:"decoding_method,omitempty"`
	IncludeStopSequence *bool    `json:"include_stop_sequence,omitempty"`
	MinNewTokens        *int     `json:"min_new_tokens,omitempty"`
	MaxNewTokens        *int     `json:"max_new_tokens,omitempty"`
	RandomSeed          *int     `json:"random_seed,omitempty"`
	StopSequences       []string `json:"stop_sequences,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	TimeLimit           *int     `json:"time_limit,omitempty"`
	TopK                *int     `json:"top_k,omitempty"`
	TopP                *float64 `json:"top_p,omitempty"`
	TypicalP            *float64 `json:"typical_p,omitempty"`
	RepetitionPenalty   *float64 `json:"repetition_penalty,omitempty"`
	TruncateInputTokens *int     `json:"truncate_input_tokens,omitempty"`
	BeamWidth           *int     `json:"beam_width,omitempty"`
}

type generationRequest struct {
	ModelID    string      `json:"model_id"`
	Messages   []message   `json:"messages"`
	Parameters *parameters `json:"parameters,omitempty"`
}

type generationResponse struct {
	ID             string             `json:"id"`
	ModelID        string             `json:"model_id"`
	CreatedAt      time.Time          `json:"created_at"`
	Results        []generationResult `json:"results"`
	ConversationID string             `json:"conversation_id"`
}

type generationResult struct {
	GeneratedText       string `json:"generated_text"`
	GeneratedTokenCount int    `json:"generated_token_count"`
	InputTokenCount     int    `json:"input_token_count"`
	StopReason          string `json:"stop_reason"`
	Seed                int64  `json:"seed"`
}

type embeddingRequest struct {
	ModelID string   `json:"model_id"`
	Input   []string `json:"input"`
}

type embeddingResponse struct {
	Results [][]float32 `json:"results"`
}

type threshold struct {
	Threshold float64 `json:"threshold"`
}

type moderationRequest struct {
	Input      string     `json:"input"`
	HAP        *threshold `json:"hap,omitempty"`
	SocialBias *threshold `json:"social_bias,omitempty"`
}

type moderationResponse struct {
	Results []struct {
		HAP        []moderationScore `json:"hap"`
		SocialBias []moderationScore `json:"social_bias"`
	} `json:"results"`
}

type moderationScore struct {
	Score   float64 `json:"score"`
	Flagged bool    `json:"flagged"`
	Success bool    `json:"success"`
}

type tokenizationRequest struct {
	ModelID string `json:"model_id"`
	Input   string `json:"input"`
}

type tokenizationResponse struct {
	Results []struct {
		TokenCount int `json:"token_count"`
	} `json:"results"`
}
