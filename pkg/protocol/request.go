package protocol

// SessionRequest is the JSON body of the FullClientRequest that opens a
// session.
type SessionRequest struct {
	User    UserMeta    `json:"user" mapstructure:"user"`
	Audio   AudioMeta   `json:"audio" mapstructure:"audio"`
	Request RequestMeta `json:"request" mapstructure:"request"`
}

type UserMeta struct {
	UID string `json:"uid" mapstructure:"uid"`
}

// AudioMeta describes the PCM stream that follows the request.
type AudioMeta struct {
	Format  string `json:"format" mapstructure:"format"`
	Codec   string `json:"codec,omitempty" mapstructure:"codec"`
	Rate    int    `json:"rate" mapstructure:"rate"`
	Bits    int    `json:"bits" mapstructure:"bits"`
	Channel int    `json:"channel" mapstructure:"channel"`
}

type RequestMeta struct {
	ModelName       string `json:"model_name" mapstructure:"model_name"`
	EnableITN       bool   `json:"enable_itn" mapstructure:"enable_itn"`
	EnablePunc      bool   `json:"enable_punc" mapstructure:"enable_punc"`
	EnableDDC       bool   `json:"enable_ddc,omitempty" mapstructure:"enable_ddc"`
	ShowUtterances  bool   `json:"show_utterances" mapstructure:"show_utterances"`
	EnableNonstream bool   `json:"enable_nonstream,omitempty" mapstructure:"enable_nonstream"`
}

// DefaultSessionRequest returns a request for 16 kHz, 16-bit, mono PCM.
func DefaultSessionRequest() SessionRequest {
	return SessionRequest{
		User: UserMeta{UID: "ghostype"},
		Audio: AudioMeta{
			Format:  "pcm",
			Rate:    16000,
			Bits:    16,
			Channel: 1,
		},
		Request: RequestMeta{
			ModelName:      "bigmodel",
			EnableITN:      true,
			EnablePunc:     true,
			ShowUtterances: true,
		},
	}
}
