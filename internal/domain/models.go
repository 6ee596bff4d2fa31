package domain

import "strings"

// FinetuneProvider names a fine-tuning backend.
type FinetuneProvider string

const (
	ProviderOpenAI    FinetuneProvider = "OPENAI"
	ProviderReplicate FinetuneProvider = "REPLICATE"
)

// ParseFinetuneProvider normalizes a provider key.
func ParseFinetuneProvider(s string) FinetuneProvider {
	return FinetuneProvider(strings.ToUpper(strings.TrimSpace(s)))
}

// BaseModel is the enumerated model name a job is trained from.
type BaseModel string

const (
	BaseModelGPT35Turbo    BaseModel = "GPT_35_TURBO"
	BaseModelLlama27BChat  BaseModel = "LLAMA2_7B_CHAT"
	BaseModelLlama27B      BaseModel = "LLAMA2_7B"
	BaseModelLlama213BChat BaseModel = "LLAMA2_13B_CHAT"
	BaseModelLlama213B     BaseModel = "LLAMA2_13B"
	BaseModelLlama270BChat BaseModel = "LLAMA2_70B_CHAT"
	BaseModelLlama270B     BaseModel = "LLAMA2_70B"
	BaseModelGPTJ6B        BaseModel = "GPT_J_6B"
	BaseModelDollyV212B    BaseModel = "DOLLY_V2_12B"
)

// OpenAIModels maps base models to OpenAI model ids.
var OpenAIModels = map[BaseModel]string{
	BaseModelGPT35Turbo: "gpt-3.5-turbo",
}

// ReplicateModels maps base models to Replicate "owner/name:version" ids.
var ReplicateModels = map[BaseModel]string{
	BaseModelLlama27BChat:  "meta/llama-2-7b-chat:8e6975e5ed6174911a6ff3d60540dfd4844201974602551e10e9e87ab143d81e",
	BaseModelLlama27B:      "meta/llama-2-7b:527827021d8756c7ab79fde0abbfaac885c37a3ed5fe23c7465093f0878d55ef",
	BaseModelLlama213BChat: "meta/llama-2-13b-chat:f4e2de70d66816a838a89eeeb621910adffb0dd0baba3976c96980970978018d",
	BaseModelLlama213B:     "meta/llama-2-13b:078d7a002387bd96d93b0302a4c03b3f15824b63104034bfa943c63a8f208c38",
	BaseModelLlama270BChat: "meta/llama-2-70b-chat:02e509c789964a7ea8736978a43525956ef40397be9033abf9fd2badfe68c9e3",
	BaseModelLlama270B:     "meta/llama-2-70b:a52e56fee2269a78c9279800ec88898cecb6c8f1df22a6483132bea266648f00",
	BaseModelGPTJ6B:        "replicate/gpt-j-6b:b3546aeec6c9891f0dd9929c2d3bedbf013c12e02e7dd0346af09c37e008c827",
	BaseModelDollyV212B:    "replicate/dolly-v2-12b:ef0e1aefc61f8e096ebe4db6b2bacc297daf2ef6899f0f7e001ec445893500e5",
}

// ReplicateVersion splits "owner/name:version" into its parts.
func ReplicateVersion(ref string) (owner, name, version string, ok bool) {
	model, version, found := strings.Cut(ref, ":")
	if !found {
		return "", "", "", false
	}
	owner, name, found = strings.Cut(model, "/")
	if !found || owner == "" || name == "" || version == "" {
		return "", "", "", false
	}
	return owner, name, version, true
}
