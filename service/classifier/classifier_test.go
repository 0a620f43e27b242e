package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/classifier"
)

func TestClassify(t *testing.T) {
	svc, err := classifier.New(classifier.DefaultConfig())
	require.NoError(t, err)

	type testCase struct {
		name     string
		request  *permission.ActionRequest
		expected permission.RiskLevel
	}

	testCases := []testCase{
		{
			name: "destructive filesystem command is critical",
			request: &permission.ActionRequest{
				Kind:       permission.KindProcessExec,
				Target:     "rm -rf /var/data",
				Descriptor: "clean up data directory",
			},
			expected: permission.RiskCritical,
		},
		{
			name: "force push matches critical before high",
			request: &permission.ActionRequest{
				Kind:       permission.KindProcessExec,
				Target:     "git push origin main --force",
				Descriptor: "push release branch",
			},
			expected: permission.RiskCritical,
		},
		{
			name: "plain push is high",
			request: &permission.ActionRequest{
				Kind:       permission.KindNetworkEgress,
				Target:     "git push origin main",
				Descriptor: "push release branch",
			},
			expected: permission.RiskHigh,
		},
		{
			name: "unknown action kind fails closed",
			request: &permission.ActionRequest{
				Kind:   permission.ActionKind("teleport"),
				Target: "ls",
			},
			expected: permission.RiskCritical,
		},
		{
			name: "file delete never classifies below high",
			request: &permission.ActionRequest{
				Kind:       permission.KindFileDelete,
				Target:     "/tmp/scratch.txt",
				Descriptor: "remove scratch file",
			},
			expected: permission.RiskHigh,
		},
		{
			name: "unmatched request defaults to medium",
			request: &permission.ActionRequest{
				Kind:       permission.KindCustom,
				Target:     "calendar://events/today",
				Descriptor: "summarise calendar",
			},
			expected: permission.RiskMedium,
		},
		{
			name: "read operations stay low",
			request: &permission.ActionRequest{
				Kind:       permission.KindCustom,
				Target:     "/workspace/readme.md",
				Descriptor: "read file",
			},
			expected: permission.RiskLow,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, svc.Classify(tc.request))
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	svc, err := classifier.New(classifier.DefaultConfig())
	require.NoError(t, err)
	request := &permission.ActionRequest{
		Kind:       permission.KindProcessExec,
		Target:     "sudo rm -rf /",
		Descriptor: "cleanup",
	}
	first := svc.Classify(request)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, svc.Classify(request))
	}
	assert.Equal(t, permission.RiskCritical, first)
}

func TestNewRejectsInvalidPattern(t *testing.T) {
	config := classifier.Config{Critical: []string{"("}}
	_, err := classifier.New(config)
	assert.Error(t, err)
}

func TestNewRejectsInvalidFloor(t *testing.T) {
	config := classifier.Config{Floors: map[permission.ActionKind]string{permission.KindCustom: "apocalyptic"}}
	_, err := classifier.New(config)
	assert.Error(t, err)
}
