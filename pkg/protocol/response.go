package protocol

// Response is the JSON body of a FullServerResponse.
type Response struct {
	AudioInfo AudioInfo `json:"audio_info"`
	Result    Result    `json:"result"`
}

type AudioInfo struct {
	// Duration of audio processed so far, in milliseconds.
	Duration int `json:"duration"`
}

// Result holds the current best transcript for the audio received so far.
type Result struct {
	Text       string         `json:"text"`
	Utterances []Utterance    `json:"utterances,omitempty"`
	Additions  map[string]any `json:"additions,omitempty"`
}

type Utterance struct {
	Text      string `json:"text"`
	StartTime int    `json:"start_time"`
	EndTime   int    `json:"end_time"`
	Definite  bool   `json:"definite"`
	Words     []Word `json:"words,omitempty"`
}

type Word struct {
	Text      string `json:"text"`
	StartTime int    `json:"start_time"`
	EndTime   int    `json:"end_time"`
}

// Text returns result.text, or "" for a nil response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return r.Result.Text
}

// DefiniteUtterances returns the utterances the service will not revise.
func (r *Response) DefiniteUtterances() []Utterance {
	if r == nil {
		return nil
	}
	var out []Utterance
	for _, u := range r.Result.Utterances {
		if u.Definite {
			out = append(out, u)
		}
	}
	return out
}
