package proxy

import (
	"net/http"
	"strings"
)

const (
	headerAnthropicVersion = "anthropic-version"
	headerAnthropicBeta    = "anthropic-beta"
	headerAuthorization    = "authorization"
	headerStreamHelper     = "x-stainless-helper-method"

	defaultAnthropicVersion = "2023-06-01"
	streamHelperValue       = "stream"

	fastTierToken = "haiku"
)

// HeaderField is one outbound header, in the order it is emitted.
type HeaderField struct {
	Name  string
	Value string
}

// clientIdentityHeaders make the backend see the request as coming from the
// official CLI client.
var clientIdentityHeaders = []HeaderField{
	{Name: "accept", Value: "application/json"},
	{Name: "accept-encoding", Value: "gzip, deflate"},
	{Name: "content-type", Value: "application/json"},
	{Name: "user-agent", Value: "claude-cli/1.0.83 (external, cli)"},
	{Name: "x-app", Value: "cli"},
	{Name: "anthropic-dangerous-direct-browser-access", Value: "true"},
	{Name: "x-stainless-arch", Value: "x64"},
	{Name: "x-stainless-lang", Value: "js"},
	{Name: "x-stainless-os", Value: "Linux"},
	{Name: "x-stainless-package-version", Value: "0.55.1"},
	{Name: "x-stainless-retry-count", Value: "0"},
	{Name: "x-stainless-runtime", Value: "node"},
	{Name: "x-stainless-runtime-version", Value: "v20.19.0"},
	{Name: "x-stainless-timeout", Value: "600"},
}

type ModelClass int

const (
	StandardTier ModelClass = iota
	FastTier
)

func (c ModelClass) String() string {
	if c == FastTier {
		return "fast"
	}
	return "standard"
}

// ClassifyModel treats an unknown model as StandardTier.
func ClassifyModel(model string, known bool) ModelClass {
	if known && strings.Contains(model, fastTierToken) {
		return FastTier
	}
	return StandardTier
}

// BetaFlags is the anthropic-beta value advertised for a model class.
type BetaFlags string

const (
	BetaFastTier     BetaFlags = "fine-grained-tool-streaming-2025-05-14"
	BetaStandardTier BetaFlags = "claude-code-20250219,oauth-2025-04-20,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"
)

func BetaFlagsFor(class ModelClass) BetaFlags {
	if class == FastTier {
		return BetaFastTier
	}
	return BetaStandardTier
}

// OutboundHeaders is the complete header set sent upstream. Nothing from the
// inbound request survives except the protocol version.
type OutboundHeaders struct {
	Version       string
	Authorization string
	StreamHelper  bool
	Beta          BetaFlags
}

func TransformHeaders(in InboundHeaders, credential string, model string, hasModel bool, stream bool) OutboundHeaders {
	version := in.Get(headerAnthropicVersion)
	if version == "" {
		version = defaultAnthropicVersion
	}
	return OutboundHeaders{
		Version:       version,
		Authorization: bearerPrefix + credential,
		StreamHelper:  stream,
		Beta:          BetaFlagsFor(ClassifyModel(model, hasModel)),
	}
}

func (o OutboundHeaders) Fields() []HeaderField {
	out := make([]HeaderField, 0, len(clientIdentityHeaders)+4)
	out = append(out, clientIdentityHeaders...)
	out = append(out,
		HeaderField{Name: headerAnthropicVersion, Value: o.Version},
		HeaderField{Name: headerAuthorization, Value: o.Authorization},
	)
	if o.StreamHelper {
		out = append(out, HeaderField{Name: headerStreamHelper, Value: streamHelperValue})
	}
	out = append(out, HeaderField{Name: headerAnthropicBeta, Value: string(o.Beta)})
	return out
}

// Apply replaces everything in h with the outbound set.
func (o OutboundHeaders) Apply(h http.Header) {
	for k := range h {
		delete(h, k)
	}
	for _, f := range o.Fields() {
		h.Set(f.Name, f.Value)
	}
}
