package messaging

import (
	"strings"
	"testing"
)

func TestSubjectConstants_FollowNamingConvention(t *testing.T) {
	subjects := []string{
		SubjectOutcomesPrefix,
		SubjectAdminAlerts,
		SubjectReconcileTrigger,
	}

	for _, subject := range subjects {
		if !strings.HasPrefix(subject, "payments.") {
			t.Errorf("subject %q should live under payments.", subject)
		}
		if strings.Contains(subject, " ") {
			t.Errorf("subject %q should not contain spaces", subject)
		}
	}
}

func TestOutcomeSubject(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{"confirmed", "payments.outcomes.confirmed"},
		{"underpaid", "payments.outcomes.underpaid"},
		{"expired", "payments.outcomes.expired"},
	}

	for _, tt := range tests {
		if got := OutcomeSubject(tt.kind); got != tt.want {
			t.Errorf("OutcomeSubject(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestQueueGroups_Distinct(t *testing.T) {
	if QueueReconcilers == QueueNotifiers {
		t.Error("queue groups must be distinct")
	}
}
