package check

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"github.com/davidnuzik/navcheck/api"
	"github.com/davidnuzik/navcheck/api/mocks"
	"github.com/davidnuzik/navcheck/common"
	"github.com/davidnuzik/navcheck/metrics"
	"github.com/davidnuzik/navcheck/storage"
	"github.com/davidnuzik/navcheck/trace"
)

const (
	profileURL = "https://github.com/alice"
	usersURL   = "https://example.com/users/alice"
)

func profileCheck() *Check {
	return NavigationCheck(profileURL, api.CSS(".repo"), "alice", WithName("github"), WithSettle(time.Millisecond))
}

func newMocks(t *testing.T) (*mocks.MockLauncher, *mocks.MockSession, *mocks.MockElement) {
	t.Helper()

	ctrl := gomock.NewController(t)
	l := mocks.NewMockLauncher(ctrl)
	l.EXPECT().Name().Return("mock").AnyTimes()

	return l, mocks.NewMockSession(ctrl), mocks.NewMockElement(ctrl)
}

func TestRunnerRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		url       string
		setup     func(l *mocks.MockLauncher, s *mocks.MockSession, el *mocks.MockElement)
		outcome   Outcome
		errIs     error
		assertion bool
	}{
		{
			name: "ok/repositories_title",
			url:  usersURL,
			setup: func(l *mocks.MockLauncher, s *mocks.MockSession, el *mocks.MockElement) {
				l.EXPECT().Launch(gomock.Any()).Return(s, nil)
				s.EXPECT().Navigate(gomock.Any(), usersURL).Return(nil)
				s.EXPECT().FindElement(gomock.Any(), api.CSS(".repo")).Return(el, nil)
				el.EXPECT().Click(gomock.Any()).Return(nil)
				s.EXPECT().Title(gomock.Any()).Return("alice's Repositories", nil)
				s.EXPECT().Quit().Return(nil)
			},
			outcome: OutcomePass,
		},
		{
			name: "fail/page_not_found",
			url:  usersURL,
			setup: func(l *mocks.MockLauncher, s *mocks.MockSession, el *mocks.MockElement) {
				l.EXPECT().Launch(gomock.Any()).Return(s, nil)
				s.EXPECT().Navigate(gomock.Any(), usersURL).Return(nil)
				s.EXPECT().FindElement(gomock.Any(), api.CSS(".repo")).Return(el, nil)
				el.EXPECT().Click(gomock.Any()).Return(nil)
				s.EXPECT().Title(gomock.Any()).Return("Page Not Found", nil)
				s.EXPECT().Quit().Return(nil)
			},
			outcome:   OutcomeFail,
			assertion: true,
		},
		{
			name: "ok/title_contains_expected",
			setup: func(l *mocks.MockLauncher, s *mocks.MockSession, el *mocks.MockElement) {
				gomock.InOrder(
					l.EXPECT().Launch(gomock.Any()).Return(s, nil),
					s.EXPECT().Navigate(gomock.Any(), profileURL).Return(nil),
					s.EXPECT().FindElement(gomock.Any(), api.CSS(".repo")).Return(el, nil),
					el.EXPECT().Click(gomock.Any()).Return(nil),
					s.EXPECT().Title(gomock.Any()).Return("alice/repo: a repository", nil),
					s.EXPECT().Quit().Return(nil),
				)
			},
			outcome: OutcomePass,
		},
		{
			name: "fail/title_mismatch",
			setup: func(l *mocks.MockLauncher, s *mocks.MockSession, el *mocks.MockElement) {
				l.EXPECT().Launch(gomock.Any()).Return(s, nil)
				s.EXPECT().Navigate(gomock.Any(), profileURL).Return(nil)
				s.EXPECT().FindElement(gomock.Any(), api.CSS(".repo")).Return(el, nil)
				el.EXPECT().Click(gomock.Any()).Return(nil)
				s.EXPECT().Title(gomock.Any()).Return("Page Not Found · GitHub", nil)
				s.EXPECT().Quit().Return(nil)
			},
			outcome: OutcomeFail,
		},
		{
			name: "fail/element_not_found",
			setup: func(l *mocks.MockLauncher, s *mocks.MockSession, _ *mocks.MockElement) {
				l.EXPECT().Launch(gomock.Any()).Return(s, nil)
				s.EXPECT().Navigate(gomock.Any(), profileURL).Return(nil)
				s.EXPECT().FindElement(gomock.Any(), api.CSS(".repo")).
					Return(nil, api.NewElementNotFoundError(api.CSS(".repo")))
				s.EXPECT().Quit().Return(nil)
			},
			outcome: OutcomeFail,
			errIs:   api.ErrElementNotFound,
		},
		{
			name: "err/session_start",
			setup: func(l *mocks.MockLauncher, _ *mocks.MockSession, _ *mocks.MockElement) {
				l.EXPECT().Launch(gomock.Any()).Return(nil, errors.New("chrome not found"))
			},
			outcome: OutcomeError,
			errIs:   ErrSessionStart,
		},
		{
			name: "err/navigation",
			setup: func(l *mocks.MockLauncher, s *mocks.MockSession, _ *mocks.MockElement) {
				l.EXPECT().Launch(gomock.Any()).Return(s, nil)
				s.EXPECT().Navigate(gomock.Any(), profileURL).Return(errors.New("net::ERR_NAME_NOT_RESOLVED"))
				s.EXPECT().Quit().Return(nil)
			},
			outcome: OutcomeError,
		},
		{
			name: "err/click",
			setup: func(l *mocks.MockLauncher, s *mocks.MockSession, el *mocks.MockElement) {
				l.EXPECT().Launch(gomock.Any()).Return(s, nil)
				s.EXPECT().Navigate(gomock.Any(), profileURL).Return(nil)
				s.EXPECT().FindElement(gomock.Any(), api.CSS(".repo")).Return(el, nil)
				el.EXPECT().Click(gomock.Any()).Return(errors.New("element not interactable"))
				s.EXPECT().Quit().Return(nil)
			},
			outcome: OutcomeError,
		},
		{
			name: "err/release_after_pass",
			setup: func(l *mocks.MockLauncher, s *mocks.MockSession, el *mocks.MockElement) {
				l.EXPECT().Launch(gomock.Any()).Return(s, nil)
				s.EXPECT().Navigate(gomock.Any(), profileURL).Return(nil)
				s.EXPECT().FindElement(gomock.Any(), api.CSS(".repo")).Return(el, nil)
				el.EXPECT().Click(gomock.Any()).Return(nil)
				s.EXPECT().Title(gomock.Any()).Return("alice", nil)
				s.EXPECT().Quit().Return(errors.New("browser already gone"))
			},
			outcome: OutcomeError,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			l, s, el := newMocks(t)
			tc.setup(l, s, el)

			c := profileCheck()
			if tc.url != "" {
				c = NavigationCheck(tc.url, api.CSS(".repo"), "alice", WithName("github"), WithSettle(time.Millisecond))
			}
			res := NewRunner(l).Run(context.Background(), c)

			assert.Equal(t, tc.outcome, res.Outcome)
			assert.Equal(t, "github", res.Check)
			assert.Equal(t, "mock", res.Launcher)
			assert.Equal(t, tc.outcome == OutcomePass, res.Passed())
			if tc.outcome == OutcomePass {
				assert.NoError(t, res.Err)
				assert.Len(t, res.Steps, 4)
			} else {
				assert.Error(t, res.Err)
			}
			if tc.errIs != nil {
				assert.ErrorIs(t, res.Err, tc.errIs)
			}
			if tc.assertion {
				var ae *AssertionError
				assert.ErrorAs(t, res.Err, &ae)
			}
		})
	}
}

func TestRunnerAssertionError(t *testing.T) {
	t.Parallel()

	l, s, el := newMocks(t)
	l.EXPECT().Launch(gomock.Any()).Return(s, nil)
	s.EXPECT().Navigate(gomock.Any(), profileURL).Return(nil)
	s.EXPECT().FindElement(gomock.Any(), gomock.Any()).Return(el, nil)
	el.EXPECT().Click(gomock.Any()).Return(nil)
	s.EXPECT().Title(gomock.Any()).Return("Page Not Found · GitHub", nil)
	s.EXPECT().Quit().Return(nil)

	res := NewRunner(l).Run(context.Background(), profileCheck())

	var ae *AssertionError
	require.ErrorAs(t, res.Err, &ae)
	assert.Equal(t, "alice", ae.Expected)
	assert.Equal(t, "Page Not Found · GitHub", ae.Actual)
	require.Len(t, res.Steps, 4)
	assert.Error(t, res.Steps[3].Err)
	assert.Equal(t, "assert_title_contains", res.Steps[3].Name)
}

func TestRunnerInvalidCheck(t *testing.T) {
	t.Parallel()

	// Launch is never expected: a strict mock fails on the call.
	l, _, _ := newMocks(t)

	res := NewRunner(l).Run(context.Background(), NavigationCheck("", api.CSS(".repo"), "alice"))
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrInvalidCheck)

	res = NewRunner(l).Run(context.Background(), nil)
	assert.ErrorIs(t, res.Err, ErrInvalidCheck)
}

func TestRunnerPanicReleasesSession(t *testing.T) {
	t.Parallel()

	l, s, el := newMocks(t)
	l.EXPECT().Launch(gomock.Any()).Return(s, nil)
	s.EXPECT().Navigate(gomock.Any(), profileURL).Return(nil)
	s.EXPECT().FindElement(gomock.Any(), gomock.Any()).Return(el, nil)
	el.EXPECT().Click(gomock.Any()).DoAndReturn(func(context.Context) error {
		panic("boom")
	})
	s.EXPECT().Quit().Return(nil).Times(1)

	assert.PanicsWithValue(t, "boom", func() {
		NewRunner(l).Run(context.Background(), profileCheck())
	})
}

func TestRunnerCanceled(t *testing.T) {
	t.Parallel()

	l, s, _ := newMocks(t)
	l.EXPECT().Launch(gomock.Any()).Return(s, nil)
	s.EXPECT().Quit().Return(nil).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewRunner(l).Run(ctx, profileCheck())
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, res.Steps)
}

func TestRunnerCanceledDuringSettle(t *testing.T) {
	t.Parallel()

	l, s, _ := newMocks(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.EXPECT().Launch(gomock.Any()).Return(s, nil)
	s.EXPECT().Navigate(gomock.Any(), profileURL).DoAndReturn(func(context.Context, string) error {
		time.AfterFunc(20*time.Millisecond, cancel)
		return nil
	})
	s.EXPECT().Quit().Return(nil)

	c := NavigationCheck(profileURL, api.CSS(".repo"), "alice", WithSettle(time.Hour))
	res := NewRunner(l).Run(ctx, c)
	assert.ErrorIs(t, res.Err, context.Canceled)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "sleep", res.Steps[1].Name)
	assert.ErrorIs(t, res.Steps[1].Err, context.Canceled)
}

func TestRunnerCanceledBetweenSteps(t *testing.T) {
	t.Parallel()

	l, s, _ := newMocks(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.EXPECT().Launch(gomock.Any()).Return(s, nil)
	s.EXPECT().Navigate(gomock.Any(), profileURL).DoAndReturn(func(context.Context, string) error {
		cancel()
		return nil
	})
	s.EXPECT().Quit().Return(nil)

	c := NavigationCheck(profileURL, api.CSS(".repo"), "alice", WithSettle(time.Hour))
	res := NewRunner(l).Run(ctx, c)

	// A step that never started is not recorded.
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.ErrorContains(t, res.Err, "step 2 (sleep)")
	assert.Len(t, res.Steps, 1)
}

func TestRunnerScreenshotOnFailure(t *testing.T) {
	t.Parallel()

	l, s, _ := newMocks(t)
	l.EXPECT().Launch(gomock.Any()).Return(s, nil)
	s.EXPECT().Navigate(gomock.Any(), profileURL).Return(nil)
	s.EXPECT().FindElement(gomock.Any(), gomock.Any()).
		Return(nil, api.NewElementNotFoundError(api.CSS(".repo")))
	s.EXPECT().Screenshot(gomock.Any()).Return([]byte("\x89PNG"), nil)
	s.EXPECT().Quit().Return(nil)

	dir := t.TempDir()
	r := NewRunner(l, WithScreenshotter(common.NewScreenshotter(&storage.LocalFilePersister{BaseDir: dir})))
	res := r.Run(context.Background(), profileCheck())

	assert.Equal(t, OutcomeFail, res.Outcome)
	require.NotEmpty(t, res.Screenshot)
	assert.Regexp(t, `^github-\d+\.png$`, res.Screenshot)

	b, err := os.ReadFile(filepath.Join(dir, res.Screenshot))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), b)
}

func TestRunnerScreenshotErrorKeepsOutcome(t *testing.T) {
	t.Parallel()

	l, s, _ := newMocks(t)
	l.EXPECT().Launch(gomock.Any()).Return(s, nil)
	s.EXPECT().Navigate(gomock.Any(), profileURL).Return(errors.New("offline"))
	s.EXPECT().Screenshot(gomock.Any()).Return(nil, errors.New("target closed"))
	s.EXPECT().Quit().Return(nil)

	r := NewRunner(l, WithScreenshotter(common.NewScreenshotter(&storage.LocalFilePersister{BaseDir: t.TempDir()})))
	res := r.Run(context.Background(), profileCheck())

	assert.Equal(t, OutcomeError, res.Outcome)
	assert.ErrorContains(t, res.Err, "offline")
	assert.Empty(t, res.Screenshot)
}

func TestRunnerInstrumentation(t *testing.T) {
	t.Parallel()

	l, s, el := newMocks(t)
	l.EXPECT().Launch(gomock.Any()).Return(s, nil)
	s.EXPECT().Navigate(gomock.Any(), profileURL).Return(nil)
	s.EXPECT().FindElement(gomock.Any(), gomock.Any()).Return(el, nil)
	el.EXPECT().Click(gomock.Any()).Return(nil)
	s.EXPECT().Title(gomock.Any()).Return("alice", nil)
	s.EXPECT().Quit().Return(nil)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	reg := prometheus.NewRegistry()
	m := metrics.RegisterCustomMetrics(reg)

	r := NewRunner(l, WithTracer(trace.NewTracer(tp, nil)), WithMetrics(m))
	res := r.Run(context.Background(), profileCheck())
	require.True(t, res.Passed())

	spans := rec.Ended()
	require.Len(t, spans, 5)
	assert.Equal(t, "navigate", spans[0].Name())
	assert.Equal(t, "check github", spans[4].Name())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckSuccess.WithLabelValues("github", "pass")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CheckSuccess.WithLabelValues("github", "fail")))
	assert.Equal(t, 4, testutil.CollectAndCount(m.StepDuration))
}
