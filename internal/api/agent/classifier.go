package agent

import (
	"regexp"
	"strings"
)

// CommandKind discriminates what a chat message asks the bot to do.
type CommandKind int

const (
	// CommandNone means the message is a recommendation query.
	CommandNone CommandKind = iota
	CommandReportVisited
	CommandAllowRevisit
	CommandDisallowRevisit
	CommandClearContext
)

// Command is the parsed intent of a chat message. Places is populated
// only for CommandReportVisited.
type Command struct {
	Kind   CommandKind
	Places []string
}

var visitedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:tôi\s+)?đã\s+(?:từng\s+)?(?:đến|đi|ghé|thăm)\s+(.+)`),
	regexp.MustCompile(`(?:tôi\s+)?đã\s+(?:từng\s+)?(?:tham quan|viếng)\s+(.+)`),
}

// placeSeparator splits a reported list like "chợ Bến Thành, Dinh Độc
// Lập và Hồ Gươm". Splitting on the word "và" requires surrounding
// whitespace so place names containing the letter v stay intact.
var placeSeparator = regexp.MustCompile(`\s+và\s+|,|&`)

var allowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`cho\s+phép\s+(?:gợi\s+ý\s+)?lại`),
	regexp.MustCompile(`được\s+(?:gợi\s+ý\s+)?lại`),
	regexp.MustCompile(`có\s+thể\s+(?:gợi\s+ý\s+)?lại`),
}

var disallowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`không\s+(?:cho\s+phép|được)\s+(?:gợi\s+ý\s+)?lại`),
	regexp.MustCompile(`không\s+muốn\s+(?:gợi\s+ý\s+)?lại`),
	regexp.MustCompile(`tắt\s+(?:gợi\s+ý\s+)?lại`),
}

var clearPatterns = []*regexp.Regexp{
	regexp.MustCompile(`xóa\s+lịch\s+sử`),
	regexp.MustCompile(`đặt\s+lại\s+(?:ngữ\s+cảnh|cuộc\s+trò\s+chuyện)`),
	regexp.MustCompile(`bắt\s+đầu\s+lại\s+từ\s+đầu`),
}

func matchAny(patterns []*regexp.Regexp, message string) bool {
	for _, p := range patterns {
		if p.MatchString(message) {
			return true
		}
	}
	return false
}

// Classify parses the intent of a chat message. Visited reports win
// over revisit toggles, which win over clear requests; anything else is
// a query for the recommendation pipeline. Disallow is checked before
// allow because every disallow phrasing contains an allow phrasing.
func Classify(message string) Command {
	msg := strings.ToLower(strings.TrimSpace(message))

	for _, p := range visitedPatterns {
		m := p.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		var places []string
		for _, part := range placeSeparator.Split(m[1], -1) {
			if part = strings.TrimSpace(part); part != "" {
				places = append(places, part)
			}
		}
		if len(places) > 0 {
			return Command{Kind: CommandReportVisited, Places: places}
		}
	}

	if matchAny(disallowPatterns, msg) {
		return Command{Kind: CommandDisallowRevisit}
	}
	if matchAny(allowPatterns, msg) {
		return Command{Kind: CommandAllowRevisit}
	}
	if matchAny(clearPatterns, msg) {
		return Command{Kind: CommandClearContext}
	}

	return Command{Kind: CommandNone}
}
