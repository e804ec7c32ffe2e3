package spam

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"portal-auth/internal/config"
)

func testSpamConfig() *config.SpamConfig {
	return &config.SpamConfig{
		ScoreThreshold:  50,
		MaxLinks:        3,
		MaxHistory:      10,
		LinkWeight:      30,
		RepeatWeight:    20,
		CapsWeight:      15,
		SpecialWeight:   20,
		TooShortWeight:  25,
		TooLongWeight:   15,
		DuplicateWeight: 40,
		KeywordWeight:   25,
		Keywords:        config.DefaultSpamKeywords(),
	}
}

func TestCheckCleanContent(t *testing.T) {
	d := NewDetector(testSpamConfig())

	verdict := d.Check("Передаю показания счетчика за июнь", "user-1")
	assert.False(t, verdict.IsSpam)
	assert.Empty(t, verdict.Reason)
	assert.Equal(t, 0, verdict.Confidence)
}

func TestCheckLinksAndRepeatsCrossThreshold(t *testing.T) {
	d := NewDetector(testSpamConfig())

	// Four links (+30) and a ten-character run (+20) score 50.
	content := "AAAAAAAAAA http://a.com http://b.com http://c.com http://d.com"
	verdict := d.Check(content, "user-2")
	assert.True(t, verdict.IsSpam)
	assert.Equal(t, 50, verdict.Confidence)
	assert.Contains(t, verdict.Reason, ReasonTooManyLinks)
	assert.Contains(t, verdict.Reason, ReasonRepeatedChars)
}

func TestCheckThreeLinksAllowed(t *testing.T) {
	d := NewDetector(testSpamConfig())

	verdict := d.Check("см. http://a.com http://b.com http://c.com", "user-3")
	assert.False(t, verdict.IsSpam)
	assert.NotContains(t, verdict.Reason, ReasonTooManyLinks)
}

func TestCheckRepeatedCharactersBoundary(t *testing.T) {
	d := NewDetector(testSpamConfig())

	// Five in a row is fine, six trips the rule.
	five := d.Check("привет ааааа дом", "user-4")
	assert.NotContains(t, five.Reason, ReasonRepeatedChars)

	six := d.Check("привет аааааа дом", "user-4")
	assert.Contains(t, six.Reason, ReasonRepeatedChars)
}

func TestCheckCapsRatio(t *testing.T) {
	d := NewDetector(testSpamConfig())

	verdict := d.Check("ВНИМАНИЕ СРОЧНО ВСЕМ", "user-5")
	assert.Contains(t, verdict.Reason, ReasonExcessCaps)

	// Short shouting is exempt.
	short := d.Check("СРОЧНО", "user-5")
	assert.NotContains(t, short.Reason, ReasonExcessCaps)
}

func TestCheckLengthRules(t *testing.T) {
	d := NewDetector(testSpamConfig())

	tooShort := d.Check("ок", "user-6")
	assert.Contains(t, tooShort.Reason, ReasonTooShort)
	assert.Equal(t, 25, tooShort.Confidence)

	tooLong := d.Check(strings.Repeat("нормальный текст ", 300), "user-6")
	assert.Contains(t, tooLong.Reason, ReasonTooLong)
}

func TestCheckDuplicateDetection(t *testing.T) {
	d := NewDetector(testSpamConfig())
	const content = "Прошу проверить начисления за май"

	first := d.Check(content, "user-7")
	assert.False(t, first.IsSpam)

	second := d.Check(content, "user-7")
	assert.Contains(t, second.Reason, ReasonDuplicate)
	assert.Equal(t, 40, second.Confidence)
	assert.False(t, second.IsSpam, "a lone duplicate stays under the threshold")

	// Duplicates are per identifier.
	other := d.Check(content, "user-8")
	assert.NotContains(t, other.Reason, ReasonDuplicate)
}

func TestCheckKeywordsScalePerDistinctMatch(t *testing.T) {
	d := NewDetector(testSpamConfig())

	one := d.Check("лучшее казино в городе приходите", "user-9")
	assert.Contains(t, one.Reason, ReasonKeywords)
	assert.Equal(t, 25, one.Confidence)
	assert.False(t, one.IsSpam)

	two := d.Check("казино и быстрый займ без проверок", "user-10")
	assert.True(t, two.IsSpam)
	assert.Equal(t, 50, two.Confidence)
}

func TestCheckConfidenceCappedAt100(t *testing.T) {
	d := NewDetector(testSpamConfig())
	content := "казино lottery winner prize кредит http://a http://b http://c http://d"

	verdict := d.Check(content, "user-11")
	assert.True(t, verdict.IsSpam)
	assert.Equal(t, 100, verdict.Confidence)
}

func TestHistoryBounded(t *testing.T) {
	cfg := testSpamConfig()
	cfg.MaxHistory = 3
	d := NewDetector(cfg)

	d.Check("сообщение первое пробное", "user-12")
	d.Check("сообщение второе пробное", "user-12")
	d.Check("сообщение третье пробное", "user-12")
	d.Check("сообщение четвертое пробное", "user-12")

	// The first message has been evicted, so it no longer reads as a duplicate.
	verdict := d.Check("сообщение первое пробное", "user-12")
	assert.NotContains(t, verdict.Reason, ReasonDuplicate)

	// The most recent one still does.
	verdict = d.Check("сообщение четвертое пробное", "user-12")
	assert.Contains(t, verdict.Reason, ReasonDuplicate)
}

func TestDuplicateNotReappended(t *testing.T) {
	cfg := testSpamConfig()
	cfg.MaxHistory = 2
	d := NewDetector(cfg)

	d.Check("альфа сообщение тест", "user-13")
	d.Check("бета сообщение тест", "user-13")

	// Re-submitting alpha must not refresh its history position.
	d.Check("альфа сообщение тест", "user-13")
	d.Check("гамма сообщение тест", "user-13")

	// Alpha was evicted by gamma despite the duplicate hit in between.
	verdict := d.Check("альфа сообщение тест", "user-13")
	assert.NotContains(t, verdict.Reason, ReasonDuplicate)
}

func TestClearHistory(t *testing.T) {
	d := NewDetector(testSpamConfig())
	const content = "Показания счетчика сто двадцать"

	d.Check(content, "user-14")
	d.ClearHistory("user-14")

	verdict := d.Check(content, "user-14")
	assert.NotContains(t, verdict.Reason, ReasonDuplicate)
}
