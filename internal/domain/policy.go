package domain

// PolicyInput is the document handed to an authorization policy. Addresses
// are passed through verbatim; the policy decides how to compare them.
type PolicyInput struct {
	Action    Action          `json:"action"`
	Requester PolicyRequester `json:"requester"`
	Target    *PolicyTarget   `json:"target,omitempty"`
}

type PolicyRequester struct {
	Address string   `json:"address"`
	Roles   []string `json:"roles"`
}

type PolicyTarget struct {
	Issuer string `json:"issuer"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}

type PolicyEvaluation struct {
	BundleID   string       `json:"bundle_id,omitempty"`
	BundleHash string       `json:"bundle_hash"`
	Result     PolicyResult `json:"result"`
}
