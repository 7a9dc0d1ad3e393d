package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/gateway"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

// hookGateway lets a test intercept individual calls to a Memory backend
type hookGateway struct {
	*gateway.Memory
	getVideo       func(ctx context.Context, videoID string) (*models.VideoDetail, error)
	updateProgress func(ctx context.Context, sessionID string, update models.ProgressUpdate) (*models.Session, error)
}

func (g *hookGateway) GetVideo(ctx context.Context, videoID string) (*models.VideoDetail, error) {
	if g.getVideo != nil {
		return g.getVideo(ctx, videoID)
	}
	return g.Memory.GetVideo(ctx, videoID)
}

func (g *hookGateway) UpdateProgress(ctx context.Context, sessionID string, update models.ProgressUpdate) (*models.Session, error) {
	if g.updateProgress != nil {
		return g.updateProgress(ctx, sessionID, update)
	}
	return g.Memory.UpdateProgress(ctx, sessionID, update)
}

func testVideo() models.VideoDetail {
	return models.VideoDetail{
		Video: models.Video{ID: "v1", Title: "Photosynthesis", Duration: 200},
		Milestones: []models.MilestoneDetail{
			{Milestone: models.Milestone{ID: "m-quiz", Timestamp: 50, Type: models.MilestoneTypeQuiz, Order: 1}, Questions: []models.Question{
				{ID: "q1", MilestoneID: "m-quiz", Type: models.QuestionTypeTrueFalse, AnswerKey: json.RawMessage(`{"correct":true}`)},
				{ID: "q2", MilestoneID: "m-quiz", Type: models.QuestionTypeTrueFalse, AnswerKey: json.RawMessage(`{"correct":false}`)},
			}},
			{Milestone: models.Milestone{ID: "m-pause", Timestamp: 20, Type: models.MilestoneTypePause, Order: 0}},
		},
	}
}

func newTestStore(t *testing.T) (*Store, *gateway.Memory) {
	t.Helper()
	mem := gateway.NewMemory()
	mem.Seed(testVideo())
	return New(mem), mem
}

func startSession(t *testing.T, s *Store) *models.SessionState {
	t.Helper()
	_, err := s.LoadVideo(context.Background(), "v1", false)
	require.NoError(t, err)
	st, err := s.StartOrResumeSession(context.Background(), "v1")
	require.NoError(t, err)
	return st
}

func TestLoadVideo(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()

	v, err := s.LoadVideo(ctx, "v1", false)
	require.NoError(t, err)
	require.NotNil(t, v.Video)
	assert.Equal(t, "Photosynthesis", v.Video.Title)
	require.Len(t, v.Milestones, 2)
	assert.Equal(t, "m-pause", v.Milestones[0].ID, "milestones are ordered by timestamp")
	assert.Equal(t, 2, v.Metadata.QuestionsPerMilestone["m-quiz"])
	assert.Equal(t, 0, v.Metadata.QuestionsPerMilestone["m-pause"])
	assert.False(t, v.Metadata.IsLoading)

	_, err = s.LoadVideo(ctx, "v1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Calls("get_video"), "cached entry is served without a fetch")

	_, err = s.LoadVideo(ctx, "v1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, mem.Calls("get_video"))
}

func TestLoadVideoDeduplicatesConcurrentFetches(t *testing.T) {
	mem := gateway.NewMemory()
	mem.Seed(testVideo())

	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	gw := &hookGateway{Memory: mem, getVideo: func(ctx context.Context, id string) (*models.VideoDetail, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return mem.GetVideo(ctx, id)
	}}
	s := New(gw)

	var wg sync.WaitGroup
	results := make([]*models.VideoState, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.LoadVideo(context.Background(), "v1", false)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	for _, v := range results {
		require.NotNil(t, v)
		assert.Equal(t, "v1", v.Video.ID)
	}
	// every caller owns its copy
	results[0].Milestones[0].Title = "changed"
	assert.NotEqual(t, "changed", results[1].Milestones[0].Title)
}

func TestLoadVideoMissingRecordsError(t *testing.T) {
	s := New(gateway.NewMemory())

	v, err := s.LoadVideo(context.Background(), "nope", false)
	assert.Nil(t, v)
	assert.ErrorIs(t, err, gateway.ErrNotFound)

	cached, ok := s.GetVideoState("nope")
	require.True(t, ok)
	assert.Nil(t, cached.Video)
	assert.NotEmpty(t, cached.Metadata.Error)
	assert.Equal(t, models.LoadStateError, cached.Metadata.LoadState)
}

func TestLoadVideoKeepsStaleDataOnRefreshFailure(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadVideo(ctx, "v1", false)
	require.NoError(t, err)

	mem.FailOn("get_video", gateway.ErrUnavailable)
	v, err := s.LoadVideo(ctx, "v1", true)
	require.NoError(t, err)
	require.NotNil(t, v.Video)
	assert.Len(t, v.Milestones, 2)
	assert.Contains(t, v.Metadata.Error, "unavailable")

	mem.ClearFailures()
	v, err = s.LoadVideo(ctx, "v1", true)
	require.NoError(t, err)
	assert.Empty(t, v.Metadata.Error)
}

func TestLoadVideoPublishesLoadingWindow(t *testing.T) {
	s, _ := newTestStore(t)

	var states []bool
	unsubscribe := s.SubscribeToVideo("v1", func(v *models.VideoState) {
		states = append(states, v.Metadata.IsLoading)
	})
	defer unsubscribe()

	_, err := s.LoadVideo(context.Background(), "v1", false)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, states)
}

func TestLoadVideoHonoursCallerContext(t *testing.T) {
	mem := gateway.NewMemory()
	mem.Seed(testVideo())
	release := make(chan struct{})
	defer close(release)
	s := New(&hookGateway{Memory: mem, getVideo: func(ctx context.Context, id string) (*models.VideoDetail, error) {
		<-release
		return mem.GetVideo(ctx, id)
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.LoadVideo(ctx, "v1", false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetStateMisses(t *testing.T) {
	s, _ := newTestStore(t)

	_, ok := s.GetVideoState("v1")
	assert.False(t, ok)
	_, ok = s.GetSessionState("s1")
	assert.False(t, ok)
}

func TestStartOrResumeSession(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()

	st := startSession(t, s)
	require.NotNil(t, st.Session)
	assert.Equal(t, models.SessionStatusActive, st.Session.Status)
	assert.Equal(t, 1, mem.Calls("start_session"))

	id, ok := s.SessionIDForVideo("v1")
	require.True(t, ok)
	assert.Equal(t, st.Session.ID, id)

	again, err := s.StartOrResumeSession(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, st.Session.ID, again.Session.ID)
	assert.Equal(t, 1, mem.Calls("start_session"), "an existing session is resumed")

	_, err = s.CompleteSession(ctx, st.Session.ID, 200, 190)
	require.NoError(t, err)

	fresh, err := s.StartOrResumeSession(ctx, "v1")
	require.NoError(t, err)
	assert.NotEqual(t, st.Session.ID, fresh.Session.ID)
	_, ok = s.GetSessionState(st.Session.ID)
	assert.False(t, ok, "the finished session is replaced in the cache")
}

func TestStartOrResumeSessionFailure(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()

	mem.FailOn("get_session_by_video", gateway.ErrUnavailable)
	_, err := s.StartOrResumeSession(ctx, "v1")
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	mem.ClearFailures()
	st := startSession(t, s)

	mem.FailOn("get_session_by_video", gateway.ErrUnavailable)
	cached, err := s.StartOrResumeSession(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, st.Session.ID, cached.Session.ID)
	assert.NotEmpty(t, cached.Metadata.Error)
	assert.False(t, cached.Metadata.IsLoading)
}

func TestUpdateSessionProgress(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()
	st := startSession(t, s)
	id := st.Session.ID

	updated, err := s.UpdateSessionProgress(ctx, id, 50, 45)
	require.NoError(t, err)
	assert.Equal(t, 50.0, updated.Session.CurrentPosition)
	assert.Equal(t, 45.0, updated.Session.TotalWatchTime)
	assert.InDelta(t, 25.0, updated.Metadata.CompletionPercentage, 0.001)

	mem.FailOn("update_progress", gateway.ErrUnavailable)
	_, err = s.UpdateSessionProgress(ctx, id, 60, 55)
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	cached, ok := s.GetSessionState(id)
	require.True(t, ok)
	assert.Equal(t, 60.0, cached.Session.CurrentPosition, "local position stays authoritative")
	assert.NotEmpty(t, cached.Metadata.Error)

	mem.ClearFailures()
	updated, err = s.UpdateSessionProgress(ctx, id, 65, 60)
	require.NoError(t, err)
	assert.Empty(t, updated.Metadata.Error)

	_, err = s.UpdateSessionProgress(ctx, "unknown", 1, 1)
	assert.ErrorIs(t, err, ErrSessionNotCached)
}

func TestUpdateSessionProgressIgnoresStaleAck(t *testing.T) {
	mem := gateway.NewMemory()
	mem.Seed(testVideo())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	gw := &hookGateway{Memory: mem}
	gw.updateProgress = func(ctx context.Context, id string, u models.ProgressUpdate) (*models.Session, error) {
		if u.CurrentTime == 10 {
			once.Do(func() { close(entered) })
			<-release
			ack, err := mem.UpdateProgress(ctx, id, u)
			if ack != nil {
				ack.Status = models.SessionStatusPaused
			}
			return ack, err
		}
		return mem.UpdateProgress(ctx, id, u)
	}
	s := New(gw)
	st := startSession(t, s)
	id := st.Session.ID

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.UpdateSessionProgress(context.Background(), id, 10, 10)
		assert.NoError(t, err)
	}()
	<-entered

	_, err := s.UpdateSessionProgress(context.Background(), id, 20, 20)
	require.NoError(t, err)
	close(release)
	<-done

	cached, _ := s.GetSessionState(id)
	assert.Equal(t, 20.0, cached.Session.CurrentPosition)
	assert.Equal(t, 20.0, cached.Session.TotalWatchTime)
	assert.Equal(t, models.SessionStatusActive, cached.Session.Status)
}

func TestUpdateSessionProgressCancelledByCaller(t *testing.T) {
	mem := gateway.NewMemory()
	mem.Seed(testVideo())
	gw := &hookGateway{Memory: mem}
	gw.updateProgress = func(ctx context.Context, _ string, _ models.ProgressUpdate) (*models.Session, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := New(gw)
	st := startSession(t, s)
	id := st.Session.ID

	var mu sync.Mutex
	deliveries := 0
	unsubscribe := s.SubscribeToSession(id, func(*models.SessionState) {
		mu.Lock()
		defer mu.Unlock()
		deliveries++
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.UpdateSessionProgress(ctx, id, 30, 30)
	assert.ErrorIs(t, err, context.Canceled)

	cached, _ := s.GetSessionState(id)
	assert.Equal(t, 30.0, cached.Session.CurrentPosition)
	assert.Empty(t, cached.Metadata.Error, "a cancelled call is not a backend failure")

	mu.Lock()
	assert.Equal(t, 1, deliveries, "only the optimistic update is published")
	mu.Unlock()

	// a backend that times out on its own is still recorded
	gw.updateProgress = func(context.Context, string, models.ProgressUpdate) (*models.Session, error) {
		return nil, context.DeadlineExceeded
	}
	_, err = s.UpdateSessionProgress(context.Background(), id, 31, 31)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	cached, _ = s.GetSessionState(id)
	assert.NotEmpty(t, cached.Metadata.Error)
}

func TestMarkMilestoneReachedIsIdempotent(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()
	st := startSession(t, s)
	id := st.Session.ID

	first, err := s.MarkMilestoneReached(ctx, id, "m-quiz", 50)
	require.NoError(t, err)
	assert.True(t, first.HasReached("m-quiz"))

	second, err := s.MarkMilestoneReached(ctx, id, "m-quiz", 50)
	require.NoError(t, err)
	assert.Len(t, second.MilestoneProgress, 1)
	assert.Equal(t, 1, mem.Calls("mark_milestone"), "already-reached milestones skip the network")

	_, err = s.MarkMilestoneReached(ctx, id, "m-unknown", 10)
	assert.ErrorIs(t, err, ErrMilestoneNotFound)
	assert.Equal(t, 1, mem.Calls("mark_milestone"))
}

func TestMarkMilestoneReachedConcurrently(t *testing.T) {
	s, _ := newTestStore(t)
	st := startSession(t, s)
	id := st.Session.ID

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.MarkMilestoneReached(context.Background(), id, "m-pause", 20)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cached, _ := s.GetSessionState(id)
	assert.Len(t, cached.MilestoneProgress, 1)
}

func TestMarkMilestoneFailureLeavesProgressUntouched(t *testing.T) {
	s, mem := newTestStore(t)
	st := startSession(t, s)

	mem.FailOn("mark_milestone", gateway.ErrUnavailable)
	_, err := s.MarkMilestoneReached(context.Background(), st.Session.ID, "m-quiz", 50)
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	cached, _ := s.GetSessionState(st.Session.ID)
	assert.False(t, cached.HasReached("m-quiz"))
}

func TestApplyQuestionAttemptReplaces(t *testing.T) {
	s, _ := newTestStore(t)
	st := startSession(t, s)
	id := st.Session.ID
	now := time.Now()

	_, err := s.ApplyQuestionAttempt(id, models.QuestionAttempt{QuestionID: "q1", IsCorrect: false, SubmittedAt: now})
	require.NoError(t, err)
	out, err := s.ApplyQuestionAttempt(id, models.QuestionAttempt{QuestionID: "q1", IsCorrect: true, Score: 1, SubmittedAt: now.Add(time.Second)})
	require.NoError(t, err)

	assert.Len(t, out.QuestionAttempts, 1)
	assert.Equal(t, 1, out.Metadata.TotalAnswers)
	assert.Equal(t, 1, out.Metadata.CorrectAnswers)
	assert.Equal(t, 1.0, out.Metadata.TotalScore)
	assert.Equal(t, id, out.QuestionAttempts["q1"].SessionID)

	out, err = s.ApplyQuestionAttempt(id, models.QuestionAttempt{QuestionID: "q2", IsCorrect: false, SubmittedAt: now})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Metadata.TotalAnswers)
	assert.Equal(t, 1, out.Metadata.CorrectAnswers)

	_, err = s.ApplyQuestionAttempt("unknown", models.QuestionAttempt{QuestionID: "q1"})
	assert.ErrorIs(t, err, ErrSessionNotCached)
}

func TestSetCurrentMilestone(t *testing.T) {
	s, _ := newTestStore(t)
	st := startSession(t, s)

	m := models.Milestone{ID: "m-quiz", Type: models.MilestoneTypeQuiz}
	require.NoError(t, s.SetCurrentMilestone(st.Session.ID, &m))
	cached, _ := s.GetSessionState(st.Session.ID)
	require.NotNil(t, cached.CurrentMilestone)
	assert.Equal(t, "m-quiz", cached.CurrentMilestone.ID)

	require.NoError(t, s.SetCurrentMilestone(st.Session.ID, nil))
	cached, _ = s.GetSessionState(st.Session.ID)
	assert.Nil(t, cached.CurrentMilestone)

	assert.ErrorIs(t, s.SetCurrentMilestone("unknown", nil), ErrSessionNotCached)
}

func TestCompleteSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	st := startSession(t, s)

	_, err := s.UpdateSessionProgress(ctx, st.Session.ID, 150, 140)
	require.NoError(t, err)

	done, err := s.CompleteSession(ctx, st.Session.ID, 200, 120)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, done.Session.Status)
	assert.NotNil(t, done.Session.CompletedAt)
	assert.Equal(t, 140.0, done.Session.TotalWatchTime, "watch time never decreases")
	assert.Equal(t, 100.0, done.Metadata.CompletionPercentage)
}

func TestAuthoringMutators(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()

	err := s.AddMilestone(models.Milestone{ID: "x", VideoID: "v1"})
	assert.ErrorIs(t, err, ErrVideoNotCached)

	_, err = s.LoadVideo(ctx, "v1", false)
	require.NoError(t, err)

	ms, err := s.CreateMilestone(ctx, models.MilestoneInput{VideoID: "v1", Timestamp: 10, Title: "Intro", Type: models.MilestoneTypeCheckpoint})
	require.NoError(t, err)

	v, _ := s.GetVideoState("v1")
	require.Len(t, v.Milestones, 3)
	assert.Equal(t, ms.ID, v.Milestones[0].ID, "new milestone slots in by timestamp")

	q, err := s.CreateQuestion(ctx, "v1", ms.ID, models.QuestionInput{Type: models.QuestionTypeShortAnswer, Text: "Why?"})
	require.NoError(t, err)
	v, _ = s.GetVideoState("v1")
	assert.Equal(t, 1, v.Metadata.QuestionsPerMilestone[ms.ID])
	assert.Equal(t, q.ID, v.Questions[ms.ID][0].ID)

	mem.FailOn("create_milestone", gateway.ErrInvalidRequest)
	_, err = s.CreateMilestone(ctx, models.MilestoneInput{VideoID: "v1", Timestamp: 99, Type: models.MilestoneTypeQuiz})
	assert.ErrorIs(t, err, gateway.ErrInvalidRequest)
	v, _ = s.GetVideoState("v1")
	assert.Len(t, v.Milestones, 3, "rejected creates never reach the cache")

	err = s.AddQuestion("v1", models.Question{ID: "orphan", MilestoneID: "missing"})
	assert.ErrorIs(t, err, ErrMilestoneNotFound)
}
