// ABOUTME: Bidirectional text translation between IRC and backend markup
// ABOUTME: Mention patterns are rebuilt only when the username generation changes

package markup

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/TinLe/localslackirc/internal/chat"
)

// Directory resolves users for mention translation.
type Directory interface {
	// Usernames returns every known name and the generation of that set.
	Usernames() ([]string, uint64)
	Generation() uint64
	UserByName(name string) (chat.User, error)
	User(ctx context.Context, id string) (chat.User, error)
}

var (
	mentionRe        = regexp.MustCompile(`<@([0-9A-Za-z]+)(?:\|[^>]*)?>`)
	channelMentionRe = regexp.MustCompile(`<#[A-Z0-9]+\|([A-Z0-9\-a-z]+)>`)
	urlRe            = regexp.MustCompile(`<([a-z0-9\-\.]+)://([^\s\|]+)\|?([^<>]*)>`)
	slackBroadcastRe = regexp.MustCompile(`<!(here|channel|everyone)(?:\|[^>]*)?>`)

	slackEscape   = strings.NewReplacer("&", "&amp;", ">", "&gt;", "<", "&lt;")
	slackUnescape = strings.NewReplacer("&amp;", "&", "&gt;", ">", "&lt;", "<")

	slackBroadcastOut  = strings.NewReplacer("@here", "<!here>", "@channel", "<!channel>", "@everyone", "<!everyone>")
	rocketBroadcastOut = strings.NewReplacer("@yell", "@channel", "@shout", "@channel", "@attention", "@channel")
)

// Translator is safe for concurrent use.
type Translator struct {
	provider chat.Provider
	dir      Directory

	mu    sync.Mutex
	gen   uint64
	built bool
	re    *regexp.Regexp
}

// New creates a translator for a provider.
func New(provider chat.Provider, dir Directory) *Translator {
	return &Translator{provider: provider, dir: dir}
}

// Outbound converts a line typed on IRC into backend text.
func (t *Translator) Outbound(text string) (string, error) {
	switch t.provider {
	case chat.ProviderSlack:
		text = slackEscape.Replace(text)
		text = slackBroadcastOut.Replace(text)
	case chat.ProviderRocket:
		text = rocketBroadcastOut.Replace(text)
	}

	re := t.mentions()
	if re == nil {
		return text, nil
	}

	matches := re.FindAllStringIndex(text, -1)
	// Right to left, so earlier offsets stay valid.
	for i := len(matches) - 1; i >= 0; i-- {
		start, end := matches[i][0], matches[i][1]
		match := text[start:end]
		if strings.HasPrefix(match, "://") {
			continue
		}
		name := strings.TrimPrefix(match, "@")

		var repl string
		switch t.provider {
		case chat.ProviderSlack:
			u, err := t.dir.UserByName(name)
			if err != nil {
				return "", fmt.Errorf("resolving mention of %s: %w", name, err)
			}
			repl = "<@" + u.ID + ">"
		default:
			repl = "@" + name
		}
		text = text[:start] + repl + text[end:]
	}
	return text, nil
}

// mentions returns the username pattern, rebuilding it when the directory
// gained names. It is nil while no names are known.
func (t *Translator) mentions() *regexp.Regexp {
	gen := t.dir.Generation()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.built && t.gen == gen {
		return t.re
	}

	names, gen := t.dir.Usernames()
	t.gen, t.built = gen, true
	if len(names) == 0 {
		t.re = nil
		return nil
	}

	// Longest first so that "bob.smith" wins over "bob".
	sorted := slices.Clone(names)
	slices.SortFunc(sorted, func(a, b string) int { return len(b) - len(a) })
	quoted := make([]string, len(sorted))
	for i, n := range sorted {
		quoted[i] = regexp.QuoteMeta(n)
	}
	t.re = regexp.MustCompile(`(?:://\S*)?@?\b(?:` + strings.Join(quoted, "|") + `)\b`)
	return t.re
}

// Inbound converts backend text into IRC lines. nick is the local nickname,
// used to attribute broadcasts. Empty lines are dropped. An unknown mentioned
// user fails the whole message.
func (t *Translator) Inbound(ctx context.Context, text, nick string) ([]string, error) {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}

		var lookupErr error
		line = mentionRe.ReplaceAllStringFunc(line, func(m string) string {
			id := mentionRe.FindStringSubmatch(m)[1]
			u, err := t.dir.User(ctx, id)
			if err != nil {
				lookupErr = err
				return m
			}
			return u.Name
		})
		if lookupErr != nil {
			return nil, fmt.Errorf("resolving mention: %w", lookupErr)
		}

		switch t.provider {
		case chat.ProviderSlack:
			line = channelMentionRe.ReplaceAllString(line, "#$1")
			line = urlRe.ReplaceAllStringFunc(line, unwrapURL)
			line = slackUnescape.Replace(line)
			line = slackBroadcastRe.ReplaceAllStringFunc(line, func(m string) string {
				return yell(slackBroadcastRe.FindStringSubmatch(m)[1], nick)
			})
		case chat.ProviderRocket:
			line = strings.NewReplacer(
				"@here", yell("here", nick),
				"@channel", yell("channel", nick),
			).Replace(line)
		}
		out = append(out, line)
	}
	return out, nil
}

func unwrapURL(m string) string {
	parts := urlRe.FindStringSubmatch(m)
	u := parts[1] + "://" + parts[2]
	if parts[3] != "" {
		u += " (" + parts[3] + ")"
	}
	return u
}

func yell(scope, nick string) string {
	switch scope {
	case "here":
		return "yelling [" + nick + "]"
	case "channel":
		return "YELLING LOUDER [" + nick + "]"
	default:
		return "DEAFENING YELL [" + nick + "]"
	}
}
