package domain

type PrimaryType string

const (
	PrimaryTypeUpdate   PrimaryType = "update"
	PrimaryTypeRequest  PrimaryType = "request"
	PrimaryTypeDecision PrimaryType = "decision"
	PrimaryTypeFYI      PrimaryType = "fyi"
)

type Intent string

const (
	IntentInform   Intent = "inform"
	IntentAsk      Intent = "ask"
	IntentEscalate Intent = "escalate"
	IntentCommit   Intent = "commit"
	IntentClarify  Intent = "clarify"
	IntentResolve  Intent = "resolve"
)

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

type Sentiment string

const (
	SentimentNeutral   Sentiment = "neutral"
	SentimentPositive  Sentiment = "positive"
	SentimentConcerned Sentiment = "concerned"
	SentimentHostile   Sentiment = "hostile"
)

type WaitingOn string

const (
	WaitingOnMe         WaitingOn = "me"
	WaitingOnThem       WaitingOn = "them"
	WaitingOnThirdParty WaitingOn = "third_party"
	WaitingOnNone       WaitingOn = "none"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AttributionKind tells whether ClientOrProject names a client or a project.
type AttributionKind string

const (
	AttributionClient  AttributionKind = "client"
	AttributionProject AttributionKind = "project"
)

var (
	PrimaryTypes = []PrimaryType{PrimaryTypeUpdate, PrimaryTypeRequest, PrimaryTypeDecision, PrimaryTypeFYI}
	Intents      = []Intent{IntentInform, IntentAsk, IntentEscalate, IntentCommit, IntentClarify, IntentResolve}
	Urgencies    = []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh}
	Sentiments   = []Sentiment{SentimentNeutral, SentimentPositive, SentimentConcerned, SentimentHostile}
	WaitingOns   = []WaitingOn{WaitingOnMe, WaitingOnThem, WaitingOnThirdParty, WaitingOnNone}
	Severities   = []Severity{SeverityLow, SeverityMedium, SeverityHigh}
)

func oneOf[T ~string](v T, allowed []T) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func names[T ~string](allowed []T) []string {
	out := make([]string, len(allowed))
	for i, a := range allowed {
		out[i] = string(a)
	}
	return out
}

// Values returns the allowed values of each enumeration, keyed by field name.
// The extraction schema and prompt are generated from it.
func Values() map[string][]string {
	return map[string][]string{
		"primary_type": names(PrimaryTypes),
		"intent":       names(Intents),
		"urgency":      names(Urgencies),
		"sentiment":    names(Sentiments),
		"waiting_on":   names(WaitingOns),
		"severity":     names(Severities),
	}
}
