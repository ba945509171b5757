package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/natya/internal/detector"
)

func TestReferenceRepository_ReplaceAndList(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Songs().Create(testSong("song-1", "Alarippu")))
	refs := s.References()

	first := []ReferenceFrame{
		{FrameIndex: 1, Keypoints: detector.ArmsRaisedPose()},
		{FrameIndex: 0, Keypoints: detector.StandingPose()},
	}
	require.NoError(t, refs.Replace("song-1", first))

	got, err := refs.List("song-1")
	require.NoError(t, err)
	want := []ReferenceFrame{first[1], first[0]}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("reference frames mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, refs.Replace("song-1", []ReferenceFrame{{FrameIndex: 5, Keypoints: detector.StandingPose()}}))

	got, err = refs.List("song-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].FrameIndex)

	n, err := refs.Count("song-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReferenceRepository_ReplaceUnknownSong(t *testing.T) {
	s := newTestStore(t)

	err := s.References().Replace("missing", []ReferenceFrame{{FrameIndex: 0, Keypoints: detector.StandingPose()}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReferenceRepository_DuplicateFrameRollsBack(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Songs().Create(testSong("song-1", "Alarippu")))
	refs := s.References()
	require.NoError(t, refs.Replace("song-1", []ReferenceFrame{{FrameIndex: 0, Keypoints: detector.StandingPose()}}))

	err := refs.Replace("song-1", []ReferenceFrame{
		{FrameIndex: 3, Keypoints: detector.StandingPose()},
		{FrameIndex: 3, Keypoints: detector.ArmsRaisedPose()},
	})
	require.Error(t, err)

	got, err := refs.List("song-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].FrameIndex)
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Songs().Create(testSong("song-1", "Alarippu")))
	repo := s.Sessions()

	sess := &Session{ID: "sess-1", SongID: "song-1", Mode: ModeHighlight}
	require.NoError(t, repo.Create(sess))
	assert.False(t, sess.StartedAt.IsZero())

	got, err := repo.GetByID("sess-1")
	require.NoError(t, err)
	assert.Equal(t, ModeHighlight, got.Mode)
	assert.Nil(t, got.EndedAt)
	assert.Nil(t, got.Score)

	require.NoError(t, repo.Finish("sess-1", 87.5, "Good"))

	got, err = repo.GetByID("sess-1")
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	require.NotNil(t, got.Score)
	assert.Equal(t, 87.5, *got.Score)
	assert.Equal(t, "Good", got.Feedback)

	list, err := repo.ListBySong("song-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSessionRepository_Errors(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Songs().Create(testSong("song-1", "Alarippu")))
	repo := s.Sessions()

	assert.Error(t, repo.Create(&Session{ID: "x", SongID: "song-1", Mode: "encore"}))
	assert.Error(t, repo.Create(&Session{ID: "y", SongID: "missing", Mode: ModeFull}), "foreign key should reject unknown song")

	_, err := repo.GetByID("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Finish("missing", 0, ""), ErrNotFound)
}

func TestSessionRepository_Evaluations(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Songs().Create(testSong("song-1", "Alarippu")))
	repo := s.Sessions()
	require.NoError(t, repo.Create(&Session{ID: "sess-1", SongID: "song-1", Mode: ModeFull}))

	_, ok, err := repo.MeanScore("sess-1")
	require.NoError(t, err)
	assert.False(t, ok)

	evals := []*Evaluation{
		{SessionID: "sess-1", FrameIndex: 2, Score: 80, Feedback: "Good", Breakdown: map[string]float64{"left_arm": 75}},
		{SessionID: "sess-1", FrameIndex: 0, Score: 90, Feedback: "Perfect", Breakdown: map[string]float64{"left_arm": 95}},
		{SessionID: "sess-1", FrameIndex: 1, Score: 0, Feedback: "Worst", NoPose: true},
	}
	for _, e := range evals {
		require.NoError(t, repo.AddEvaluation(e))
		assert.NotZero(t, e.ID)
	}

	got, err := repo.Evaluations("sess-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{got[0].FrameIndex, got[1].FrameIndex, got[2].FrameIndex})
	assert.Equal(t, 95.0, got[0].Breakdown["left_arm"])
	assert.True(t, got[1].NoPose)
	assert.Empty(t, got[1].Breakdown)

	mean, ok, err := repo.MeanScore("sess-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 56.67, mean, 0.01)
}
