package mqtt

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTopicFilter(t *testing.T) {
	tests := []struct {
		filter  string
		wantErr bool
	}{
		{"a/b", false},
		{"a/+/c", false},
		{"a/#", false},
		{"#", false},
		{"+", false},
		{"+/+", false},
		{"/", false},
		{"$SYS/#", false},
		{"", true},
		{"a/b#", true},
		{"a/#/c", true},
		{"a+", true},
		{"a/+b/c", true},
		{"##", true},
		{strings.Repeat("a", maxTopicLength+1), true},
		{"a\x00b", true},
	}

	for _, tt := range tests {
		err := ValidateTopicFilter(tt.filter)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateTopicFilter(%q) error = %v, wantErr %v", tt.filter, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidTopicFilter) {
			t.Errorf("ValidateTopicFilter(%q) error = %v, want ErrInvalidTopicFilter", tt.filter, err)
		}
	}
}

func TestValidateTopicName(t *testing.T) {
	tests := []struct {
		topic   string
		wantErr bool
	}{
		{"a/b", false},
		{"a", false},
		{"$SYS/broker/uptime", false},
		{"", true},
		{"a/+", true},
		{"a/#", true},
		{"a\xffb", true},
	}

	for _, tt := range tests {
		err := ValidateTopicName(tt.topic)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateTopicName(%q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
		}
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/b", "a/b/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a/b/c", false},
		{"a/+/c", "a/b/c", true},
		{"+/+", "a/b", true},
		{"+", "a", true},
		{"+", "a/b", false},
		{"a/#", "a", true},
		{"a/#", "a/b", true},
		{"a/#", "a/b/c", true},
		{"a/#", "b/c", false},
		{"#", "a/b/c", true},
		{"#", "$SYS/broker", false},
		{"+/broker", "$SYS/broker", false},
		{"$SYS/#", "$SYS/broker/uptime", true},
		{"$SYS/+/uptime", "$SYS/broker/uptime", true},
		{"a//b", "a//b", true},
		{"a/+/b", "a//b", true},
	}

	for _, tt := range tests {
		if got := MatchTopic(tt.filter, tt.topic); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestIsSysTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  bool
	}{
		{"$SYS", true},
		{"$SYS/broker/clients/connected", true},
		{"$SYSTEM/x", false},
		{"sensors/$SYS", false},
	}

	for _, tt := range tests {
		if got := IsSysTopic(tt.topic); got != tt.want {
			t.Errorf("IsSysTopic(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
}
