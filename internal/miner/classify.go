package miner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Status severity letters reported by the device in the response
// envelope.
const (
	SeveritySuccess       = "S"
	SeverityWarning       = "W"
	SeverityInformational = "I"
	SeverityError         = "E"
	SeverityFatal         = "F"
)

// Status is the decoded STATUS entry of one response envelope.
type Status struct {
	// Severity is one of the Severity* letters.
	Severity string `json:"STATUS"`

	// Code selects which payload key carries the command's data.
	Code int `json:"Code"`

	// Msg is the device's free-text message. For Error severity it is
	// the only signal available for retry classification.
	Msg string `json:"Msg"`
}

// Envelope is a decoded response object: a keyed mapping whose values
// are left raw until the classifier picks the relevant subset.
type Envelope map[string]json.RawMessage

// Result is the classifier's output for one command token.
type Result struct {
	// Payload is the data subset selected by the status code, or the
	// whole envelope when the code was not recognized.
	Payload json.RawMessage

	// Recognized is false when the status code was not in any code
	// table. The payload is still usable; callers can degrade to
	// printing or storing the raw object.
	Recognized bool
}

// codeRule maps a success status code to the payload key carrying the
// command's data.
type codeRule struct {
	code int
	key  string

	// unwrapFirst selects the first element of the payload sequence
	// instead of the whole sequence (the "summary" shape).
	unwrapFirst bool
}

// errorRule maps an error-message pattern to a retry classification.
// Rules are ordered; the first match wins.
type errorRule struct {
	pattern *regexp.Regexp
	kind    RetryKind
}

// Base tables for the classic cgminer dialect.
var (
	cgminerCodes = []codeRule{
		{code: 70, key: "STATS"},                    // MSG_MINESTATS
		{code: 11, key: "SUMMARY", unwrapFirst: true}, // MSG_SUMM
		{code: 9, key: "DEVS"},                      // MSG_DEVS
	}

	bosminerCodes = []codeRule{
		{code: 201, key: "TEMPS"},
		{code: 202, key: "FANS"},
	}

	baseErrorRules = []errorRule{
		{pattern: regexp.MustCompile(`(?i)Not ready`), kind: KindRetryShort},
		{pattern: regexp.MustCompile(`(?i)Disconnected`), kind: KindRetryLong},
	}
)

// Classifier turns a decoded response envelope into a Result or a
// tagged MinerError.
//
// Dialect variants are modelled as composition over a shared code
// table: a classifier holds an ordered list of tables to try, so
// BOSminer is the cgminer classifier plus one extra table rather than a
// subclass. Error-message rules can likewise be extended per dialect
// without changing the classification contract.
type Classifier struct {
	codeTables [][]codeRule
	errorRules []errorRule
}

// NewClassifier creates the classic cgminer classifier.
func NewClassifier() *Classifier {
	return &Classifier{
		codeTables: [][]codeRule{cgminerCodes},
		errorRules: baseErrorRules,
	}
}

// NewBOSminerClassifier creates the BOSminer (Braiins OS) classifier:
// the cgminer tables first, then the BOSminer-specific codes for the
// temperature and fan blocks.
func NewBOSminerClassifier() *Classifier {
	c := NewClassifier()
	c.codeTables = append(c.codeTables, bosminerCodes)
	return c
}

// AddErrorRule appends a (pattern, kind) rule to the ordered error
// table. The pattern is matched case-insensitively against the
// device's error message; earlier rules win.
func (c *Classifier) AddErrorRule(pattern string, kind RetryKind) error {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("miner: bad error rule %q: %w", pattern, err)
	}
	c.errorRules = append(c.errorRules, errorRule{pattern: re, kind: kind})
	return nil
}

// Classify inspects one decoded envelope for the given command token.
//
// Rules, in order:
//  1. A single-token command without a STATUS key is a protocol-shape
//     violation (Fatal). Combined tokens are exempt: their envelope is
//     keyed by sub-command instead.
//  2. Error severity is classified through the ordered rule table;
//     an unmatched error message is Fatal and surfaces immediately.
//  3. Any severity other than Success or Error is Fatal: the device is
//     in a state this client should not guess about.
//  4. On Success, the status code selects the payload via the code
//     tables. Unknown codes return the whole envelope with
//     Recognized=false so a caller (or an outer dialect table) can
//     still make use of it.
//
// Parameters:
//   - env: Decoded response envelope for this token
//   - command: The command token the envelope answers
//
// Returns:
//   - Result: Selected payload and recognition flag
//   - error: A *MinerError carrying the retry classification
func (c *Classifier) Classify(env Envelope, command string) (Result, error) {
	if len(env) == 0 {
		return Result{}, newMinerError(KindFatal, "no response data for command %q", command)
	}

	rawStatus, ok := env["STATUS"]
	if !ok {
		if strings.Contains(command, "+") {
			// Combined envelopes carry STATUS per sub-command.
			return Result{Payload: mustMarshal(env), Recognized: false}, nil
		}
		return Result{}, newMinerError(KindFatal, "unrecognized response for command %q, no STATUS", command)
	}

	var statuses []Status
	if err := json.Unmarshal(rawStatus, &statuses); err != nil || len(statuses) == 0 {
		return Result{}, newMinerError(KindFatal, "malformed STATUS for command %q", command)
	}
	status := statuses[0]

	switch status.Severity {
	case SeverityError:
		return Result{}, c.classifyError(status, command)
	case SeveritySuccess:
		// Fall through to code mapping.
	default:
		return Result{}, newMinerError(KindFatal,
			"unexpected status %q for command %q: %s", status.Severity, command, status.Msg)
	}

	for _, table := range c.codeTables {
		for _, rule := range table {
			if rule.code != status.Code {
				continue
			}
			payload, ok := env[rule.key]
			if !ok {
				return Result{}, newMinerError(KindFatal,
					"response code %d promised %q but the key is missing", status.Code, rule.key)
			}
			if rule.unwrapFirst {
				first, err := firstElement(payload)
				if err != nil {
					return Result{}, newMinerError(KindFatal,
						"response key %q is not a sequence: %v", rule.key, err)
				}
				payload = first
			}
			return Result{Payload: payload, Recognized: true}, nil
		}
	}

	// Unknown code: hand back everything rather than raising, so
	// callers can degrade gracefully.
	return Result{Payload: mustMarshal(env), Recognized: false}, nil
}

// classifyError maps an Error-severity status to a tagged MinerError
// using the ordered rule table. Unmatched messages are Fatal: silent
// continuation on an unknown device error is worse than stopping.
func (c *Classifier) classifyError(status Status, command string) *MinerError {
	for _, rule := range c.errorRules {
		if rule.pattern.MatchString(status.Msg) {
			return newMinerError(rule.kind, "error for command %q: %s", command, status.Msg)
		}
	}
	return newMinerError(KindFatal, "failed to execute command %q: %s", command, status.Msg)
}

// firstElement returns the first element of a JSON array.
func firstElement(raw json.RawMessage) (json.RawMessage, error) {
	var seq []json.RawMessage
	if err := json.Unmarshal(raw, &seq); err != nil {
		return nil, err
	}
	if len(seq) == 0 {
		return nil, fmt.Errorf("empty sequence")
	}
	return seq[0], nil
}

// mustMarshal re-serializes an envelope. Marshalling a map of raw
// messages cannot fail; the fallback keeps the compiler honest.
func mustMarshal(env Envelope) json.RawMessage {
	b, err := json.Marshal(env)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
