package mqtt

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxTopicLength is the MQTT limit for topic names and filters in bytes.
const maxTopicLength = 65535

// Broker system topics.
const (
	// SysTopicPrefix starts every broker statistics topic.
	SysTopicPrefix = "$SYS"

	// SysTopicFilter subscribes to all broker statistics.
	SysTopicFilter = "$SYS/#"
)

// topicFilterRegex accepts '+' only as a whole level and '#' only as the last level.
var topicFilterRegex = regexp.MustCompile(`^(([^+#]*|\+)(/([^+#]*|\+))*(/#)?|#)$`)

// ValidateTopicFilter checks a subscription filter.
//
// Examples of valid filters: "a/b", "a/+/c", "a/#", "#", "+".
// Invalid: "", "a/b#", "a/#/c", "a+".
func ValidateTopicFilter(filter string) error {
	if err := validateTopicString(filter, ErrInvalidTopicFilter); err != nil {
		return err
	}
	if !topicFilterRegex.MatchString(filter) {
		return fmt.Errorf("%w: %q has misplaced wildcards", ErrInvalidTopicFilter, filter)
	}
	return nil
}

// ValidateTopicName checks a topic used for publishing.
// Topic names must not contain wildcards.
func ValidateTopicName(topic string) error {
	if err := validateTopicString(topic, ErrInvalidTopic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q contains wildcards", ErrInvalidTopic, topic)
	}
	return nil
}

func validateTopicString(s string, kind error) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: cannot be empty", kind)
	case len(s) > maxTopicLength:
		return fmt.Errorf("%w: longer than %d bytes", kind, maxTopicLength)
	case !utf8.ValidString(s):
		return fmt.Errorf("%w: not valid UTF-8", kind)
	case strings.ContainsRune(s, 0):
		return fmt.Errorf("%w: contains NUL", kind)
	}
	return nil
}

// MatchTopic reports whether a topic name matches a subscription filter.
//
// Topics starting with '$' are only matched by filters whose first level
// is the same literal, so "#" and "+/x" never match "$SYS/x".
func MatchTopic(filter, topic string) bool {
	fLevels := strings.Split(filter, "/")
	tLevels := strings.Split(topic, "/")

	if strings.HasPrefix(tLevels[0], "$") && fLevels[0] != tLevels[0] {
		return false
	}

	for i, f := range fLevels {
		// Checked before the length test so "a/#" also matches "a".
		if f == "#" {
			return true
		}
		if i >= len(tLevels) {
			return false
		}
		if f != "+" && f != tLevels[i] {
			return false
		}
	}

	return len(fLevels) == len(tLevels)
}

// IsSysTopic reports whether a topic is a broker statistics topic.
func IsSysTopic(topic string) bool {
	return topic == SysTopicPrefix || strings.HasPrefix(topic, SysTopicPrefix+"/")
}
