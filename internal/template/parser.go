// Package template parses and validates the labeled market-creation template
// that requesters fill in, and renders the prompt that asks for it.
package template

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mr-tron/base58"

	"github.com/edgard/marketbot/internal/database"
)

// Field labels recognized in a template.
const (
	LabelQuestion    = "Q"
	LabelCategory    = "CAT"
	LabelEnd         = "END"
	LabelWallet      = "WALLET"
	LabelDescription = "DESC"
	LabelRules       = "RULES"
	LabelResolver    = "RESOLVER"
)

// Labels lists every recognized label.
var Labels = []string{LabelQuestion, LabelCategory, LabelEnd, LabelWallet, LabelDescription, LabelRules, LabelResolver}

// Field limits, counted in characters.
const (
	MaxQuestionLength    = 200
	MaxCategoryLength    = 50
	MaxDescriptionLength = 500
	MaxRulesLength       = 500
)

// EndDateLayout is the accepted END format.
const EndDateLayout = "2006-01-02"

// endOfDay is added to an END date; markets close at 23:59:59 UTC.
const endOfDay = 23*time.Hour + 59*time.Minute + 59*time.Second

// User-visible validation messages.
const (
	ErrQuestionRequired  = "Q (question) is required"
	ErrCategoryRequired  = "CAT (category) is required"
	ErrEndRequired       = "END (end date) is required"
	ErrEndInvalid        = "END must be a valid date (YYYY-MM-DD)"
	ErrEndPast           = "END must be a future date"
	ErrWalletRequired    = "WALLET (Solana wallet address) is required"
	ErrWalletInvalid     = "WALLET must be a valid Solana wallet address"
	ErrImageRequired     = "Please attach an image to your tweet for the market thumbnail"
	ErrResolverInvalid   = `RESOLVER must be "UMA" or a comma-separated list of Solana wallet addresses`
	resolverWalletPrefix = "Invalid resolver wallet: "
)

var (
	mentionRe  = regexp.MustCompile(`@\w+`)
	controlRe  = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	anyLabelRe = regexp.MustCompile(`(?i)(?:^|\s)(?:` + strings.Join(Labels, "|") + `):`)

	lineLabelRe   = make(map[string]*regexp.Regexp, len(Labels))
	inlineLabelRe = make(map[string]*regexp.Regexp, len(Labels))
)

func init() {
	for _, l := range Labels {
		lineLabelRe[l] = regexp.MustCompile(`(?im)^[ \t]*` + l + `:[ \t]*(.+)$`)
		inlineLabelRe[l] = regexp.MustCompile(`(?i)(?:^|\s)` + l + `:`)
	}
}

// Result is the outcome of parsing a template. Params is only set on success.
type Result struct {
	Success           bool
	Params            *database.MarketParams
	FeeReceiverWallet string
	Errors            []string
}

// StripMentions removes @handles from text.
func StripMentions(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}

// Sanitize strips control characters other than tab, CR and LF, then trims.
func Sanitize(s string) string {
	return strings.TrimSpace(controlRe.ReplaceAllString(s, ""))
}

// cutAtNextLabel truncates value at the first label token it contains.
func cutAtNextLabel(value string) string {
	if loc := anyLabelRe.FindStringIndex(value); loc != nil {
		return value[:loc[0]]
	}
	return value
}

// extractField finds the value of label. A "LABEL: value" line wins; an
// inline "LABEL: value" is the fallback. Either way the value ends at the
// next recognized label or the end of text. ok is false when the label is
// absent.
func extractField(text, label string) (value string, ok bool) {
	if m := lineLabelRe[label].FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(cutAtNextLabel(m[1])), true
	}

	loc := inlineLabelRe[label].FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	return strings.TrimSpace(cutAtNextLabel(text[loc[1]:])), true
}

// IsValidAddress reports whether addr is a base58-encoded 32-byte public key.
func IsValidAddress(addr string) bool {
	if addr == "" || len(addr) > 44 {
		return false
	}
	b, err := base58.Decode(addr)
	return err == nil && len(b) == 32
}

func parseResolver(raw string) (database.ResolverConfig, []string) {
	if raw == "" || strings.EqualFold(raw, "uma") {
		return database.ResolverConfig{Type: database.ResolverUMA}, nil
	}

	var (
		voters []string
		errs   []string
	)
	for _, part := range strings.Split(raw, ",") {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		if IsValidAddress(addr) {
			voters = append(voters, addr)
		} else {
			errs = append(errs, resolverWalletPrefix+addr)
		}
	}

	if len(voters) == 0 && len(errs) == 0 {
		errs = append(errs, ErrResolverInvalid)
	}
	if len(errs) > 0 {
		return database.ResolverConfig{Type: database.ResolverUMA}, errs
	}
	return database.ResolverConfig{Type: database.ResolverWalletVote, Voters: voters}, nil
}

func checkLength(errs []string, label, value string, limit int) []string {
	if utf8.RuneCountInString(value) > limit {
		errs = append(errs, fmt.Sprintf("%s must be under %d characters", label, limit))
	}
	return errs
}

// Parse validates a filled-in template. Every violated field is reported;
// validation never stops at the first error. now is the reference for the
// END date check.
func Parse(text string, hasImage bool, now time.Time) Result {
	cleaned := StripMentions(text)

	field := func(label string) string {
		v, _ := extractField(cleaned, label)
		return Sanitize(v)
	}

	question := field(LabelQuestion)
	category := field(LabelCategory)
	endRaw := field(LabelEnd)
	wallet := field(LabelWallet)
	description := field(LabelDescription)
	rules := field(LabelRules)
	resolverRaw := field(LabelResolver)

	var errs []string

	if question == "" {
		errs = append(errs, ErrQuestionRequired)
	} else {
		errs = checkLength(errs, LabelQuestion, question, MaxQuestionLength)
	}
	if category == "" {
		errs = append(errs, ErrCategoryRequired)
	} else {
		errs = checkLength(errs, LabelCategory, category, MaxCategoryLength)
	}
	errs = checkLength(errs, LabelDescription, description, MaxDescriptionLength)
	errs = checkLength(errs, LabelRules, rules, MaxRulesLength)

	var endDate time.Time
	if endRaw == "" {
		errs = append(errs, ErrEndRequired)
	} else if day, err := time.Parse(EndDateLayout, endRaw); err != nil {
		errs = append(errs, ErrEndInvalid)
	} else {
		endDate = day.Add(endOfDay)
		if !endDate.After(now) {
			errs = append(errs, ErrEndPast)
		}
	}

	if wallet == "" {
		errs = append(errs, ErrWalletRequired)
	} else if !IsValidAddress(wallet) {
		errs = append(errs, ErrWalletInvalid)
	}

	if !hasImage {
		errs = append(errs, ErrImageRequired)
	}

	resolver, resolverErrs := parseResolver(resolverRaw)
	errs = append(errs, resolverErrs...)

	if len(errs) > 0 {
		return Result{Errors: errs}
	}

	return Result{
		Success: true,
		Params: &database.MarketParams{
			Question:    question,
			Category:    category,
			EndDate:     endDate,
			Description: description,
			Rules:       rules,
			Resolver:    resolver,
		},
		FeeReceiverWallet: wallet,
	}
}

// BuildTemplatePrompt renders the reply that asks username to fill in the template.
func BuildTemplatePrompt(username string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@%s To create a market, reply with an image and:\n\n", username)
	b.WriteString(LabelQuestion + ": [Your yes/no question]\n")
	b.WriteString(LabelCategory + ": [Category e.g. crypto, sports]\n")
	b.WriteString(LabelEnd + ": [YYYY-MM-DD]\n")
	b.WriteString(LabelWallet + ": [Your Solana wallet]\n\n")
	b.WriteString("Optional:\n")
	b.WriteString(LabelDescription + ": [Description]\n")
	b.WriteString(LabelRules + ": [Resolution rules]\n")
	b.WriteString(LabelResolver + ": [UMA (default) or wallet1,wallet2,...]")
	return b.String()
}
