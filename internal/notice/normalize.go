package notice

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ErrMalformedRecord marks a raw payload whose identity cannot be established.
// Callers skip such records instead of aborting the run.
var ErrMalformedRecord = errors.New("malformed record")

// Raw is a single opportunity payload as returned by the SAM.gov search API.
type Raw map[string]any

// rawRecord carries every upstream field we care about, including the
// alternate names SAM.gov uses across API versions.
type rawRecord struct {
	NoticeID           string `json:"noticeId"`
	SolicitationNumber string `json:"solicitationNumber"`
	Title              string `json:"title"`
	Agency             string `json:"agency"`
	FullParentPathName string `json:"fullParentPathName"`
	NoticeType         string `json:"noticeType"`
	Type               string `json:"type"`
	NAICSCode          string `json:"naicsCode"`
	NAICS              string `json:"naics"`
	TypeOfSetAside     string `json:"typeOfSetAside"`
	SetAside           string `json:"setAside"`
	Description        string `json:"description"`
	Summary            string `json:"summary"`
	FullDescription    string `json:"fullDescription"`
	PostedDate         string `json:"postedDate"`
	ResponseDeadLine   string `json:"responseDeadLine"`
	ResponseDeadline   string `json:"responseDeadline"`
}

// Normalize maps a raw payload into an Opportunity. It never fails on missing
// optional fields; the only error is ErrMalformedRecord when the payload is
// undecodable or the notice identifier is absent or empty.
func Normalize(raw Raw) (*Opportunity, error) {
	var rec rawRecord
	cfg := &mapstructure.DecoderConfig{
		Result:           &rec,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := decoder.Decode(map[string]any(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	noticeID := strings.TrimSpace(rec.NoticeID)
	if noticeID == "" {
		return nil, fmt.Errorf("%w: missing noticeId", ErrMalformedRecord)
	}

	opp := &Opportunity{
		NoticeID:           noticeID,
		SolicitationNumber: strings.TrimSpace(rec.SolicitationNumber),
		Title:              strings.TrimSpace(rec.Title),
		Agency:             firstNonEmpty(rec.Agency, rec.FullParentPathName),
		NoticeType:         firstNonEmpty(rec.NoticeType, rec.Type),
		NAICSCode:          firstNonEmpty(rec.NAICSCode, rec.NAICS),
		SetAside:           firstNonEmpty(rec.TypeOfSetAside, rec.SetAside),
		Description:        firstNonEmpty(rec.Description, rec.Summary, rec.FullDescription),
		Link:               "https://sam.gov/opp/" + noticeID + "/view",
		RawSourceHash:      Hash(raw),
	}

	// Date parse failures degrade to zero values rather than failing the record.
	if posted, ok := parseDate(rec.PostedDate); ok {
		opp.PostedDate = posted
	}
	if deadline, ok := parseDate(firstNonEmpty(rec.ResponseDeadLine, rec.ResponseDeadline)); ok {
		opp.ResponseDeadline = &deadline
	}

	return opp, nil
}

// Hash returns a stable content hash of the raw payload. Serialization goes
// through encoding/json, which sorts map keys, so semantically identical
// re-deliveries hash the same regardless of upstream field order.
func Hash(raw Raw) string {
	canonical, err := json.Marshal(raw)
	if err != nil {
		canonical = []byte(fmt.Sprintf("%v", raw))
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-07:00",
	"2006-01-02",
	"01/02/2006",
}

func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
