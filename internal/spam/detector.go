package spam

import (
	"regexp"
	"strings"
	"sync"
	"unicode"

	"portal-auth/internal/config"
)

// Verdict is the detector's decision for one piece of content. Confidence
// is the capped sum of triggered rule weights; content at or above the
// configured threshold is spam.
type Verdict struct {
	IsSpam     bool
	Reason     string
	Confidence int
}

var (
	urlPattern     = regexp.MustCompile(`(?i)https?://[^\s]+`)
	specialPattern = regexp.MustCompile(`[!@#$%^&*()_+={}\[\]:;"'<>,.?/\\|` + "`" + `~]`)
)

// Reason strings surfaced to the submitter alongside a rejection.
const (
	ReasonTooManyLinks  = "Слишком много ссылок"
	ReasonRepeatedChars = "Повторяющиеся символы"
	ReasonExcessCaps    = "Слишком много заглавных букв"
	ReasonSpecialChars  = "Слишком много спецсимволов"
	ReasonTooShort      = "Слишком короткое сообщение"
	ReasonTooLong       = "Слишком длинное сообщение"
	ReasonDuplicate     = "Дубликат сообщения"
	ReasonKeywords      = "Спам-ключевые слова"
)

// Detector scores free-text content against structural heuristics and a
// per-identifier duplicate history. History is bounded and process-local;
// it does not survive a restart.
type Detector struct {
	cfg *config.SpamConfig

	mu          sync.Mutex
	submissions map[string][]string
}

func NewDetector(cfg *config.SpamConfig) *Detector {
	return &Detector{
		cfg:         cfg,
		submissions: make(map[string][]string),
	}
}

// Check scores content for the given identifier. Scoring is additive; each
// triggered rule appends its reason. The content is always recorded into
// the identifier's history afterwards unless it is already present.
func (d *Detector) Check(content, identifier string) Verdict {
	var reasons []string
	score := 0

	runes := []rune(content)
	length := len(runes)

	if len(urlPattern.FindAllString(content, -1)) > d.cfg.MaxLinks {
		score += d.cfg.LinkWeight
		reasons = append(reasons, ReasonTooManyLinks)
	}

	if hasRepeatedRun(content) {
		score += d.cfg.RepeatWeight
		reasons = append(reasons, ReasonRepeatedChars)
	}

	if length > 10 {
		caps := 0
		for _, r := range runes {
			if unicode.IsUpper(r) {
				caps++
			}
		}
		if float64(caps)/float64(length) > 0.7 {
			score += d.cfg.CapsWeight
			reasons = append(reasons, ReasonExcessCaps)
		}
	}

	if length > 0 {
		special := len(specialPattern.FindAllString(content, -1))
		if float64(special)/float64(length) > 0.3 {
			score += d.cfg.SpecialWeight
			reasons = append(reasons, ReasonSpecialChars)
		}
	}

	if length < 3 {
		score += d.cfg.TooShortWeight
		reasons = append(reasons, ReasonTooShort)
	} else if length > 5000 {
		score += d.cfg.TooLongWeight
		reasons = append(reasons, ReasonTooLong)
	}

	d.mu.Lock()
	history := d.submissions[identifier]
	duplicate := contains(history, content)
	if duplicate {
		score += d.cfg.DuplicateWeight
		reasons = append(reasons, ReasonDuplicate)
	}
	d.mu.Unlock()

	lower := strings.ToLower(content)
	matched := 0
	for _, keyword := range d.cfg.Keywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			matched++
		}
	}
	if matched > 0 {
		score += matched * d.cfg.KeywordWeight
		reasons = append(reasons, ReasonKeywords)
	}

	if !duplicate {
		d.remember(identifier, content)
	}

	confidence := score
	if confidence > 100 {
		confidence = 100
	}

	return Verdict{
		IsSpam:     score >= d.cfg.ScoreThreshold,
		Reason:     strings.Join(reasons, ", "),
		Confidence: confidence,
	}
}

// ClearHistory drops the duplicate-detection history for an identifier.
func (d *Detector) ClearHistory(identifier string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.submissions, identifier)
}

func (d *Detector) remember(identifier, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	history := append(d.submissions[identifier], content)
	if len(history) > d.cfg.MaxHistory {
		history = history[len(history)-d.cfg.MaxHistory:]
	}
	d.submissions[identifier] = history
}

// hasRepeatedRun reports whether any character occurs six or more times
// consecutively, i.e. the rule `(.)\1{5,}`, which Go's RE2 regexp cannot
// express because it has no backreferences.
func hasRepeatedRun(s string) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= 6 {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
