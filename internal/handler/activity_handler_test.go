package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/teamman/internal/model"
	"github.com/hitoshi/teamman/internal/team"
)

// mockActivityService はActivityServiceInterfaceのモック実装。
type mockActivityService struct {
	listByTeamFn func(ctx context.Context, teamID string, limit int) ([]*model.ActivityLog, error)
	listByUserFn func(ctx context.Context, userID string, limit int) ([]*model.ActivityLog, error)
}

func (m *mockActivityService) ListByTeam(ctx context.Context, teamID string, limit int) ([]*model.ActivityLog, error) {
	if m.listByTeamFn != nil {
		return m.listByTeamFn(ctx, teamID, limit)
	}
	return nil, nil
}

func (m *mockActivityService) ListByUser(ctx context.Context, userID string, limit int) ([]*model.ActivityLog, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID, limit)
	}
	return nil, nil
}

// mockTeamViewer はTeamViewerのモック実装。
type mockTeamViewer struct {
	getFn func(ctx context.Context, actor team.Actor, teamID string) (*model.Team, error)
}

func (m *mockTeamViewer) Get(ctx context.Context, actor team.Actor, teamID string) (*model.Team, error) {
	if m.getFn != nil {
		return m.getFn(ctx, actor, teamID)
	}
	return &model.Team{ID: teamID}, nil
}

func testActivityLog(id string) *model.ActivityLog {
	teamID := "team-1"
	userID := "user-123"
	return &model.ActivityLog{
		ID:        id,
		TeamID:    &teamID,
		UserID:    &userID,
		Action:    model.ActivityCreateTeam,
		UserName:  "Alice",
		UserEmail: "alice@example.com",
		TeamName:  "開発チーム",
		CreatedAt: time.Now(),
	}
}

func TestActivityHandler_ListByTeam(t *testing.T) {
	t.Run("正常系_参照権限がある場合は一覧を返す", func(t *testing.T) {
		var gotTeamID string
		var gotLimit int
		activities := &mockActivityService{
			listByTeamFn: func(_ context.Context, teamID string, limit int) ([]*model.ActivityLog, error) {
				gotTeamID, gotLimit = teamID, limit
				return []*model.ActivityLog{testActivityLog("log-1")}, nil
			},
		}
		handler := NewActivityHandler(activities, &mockTeamViewer{})

		r := withUser(httptest.NewRequest(http.MethodGet, "/api/teams/team-1/activity", nil), memberUser())
		r = withChiURLParam(r, "id", "team-1")
		w := httptest.NewRecorder()

		handler.ListByTeam(w, r)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if gotTeamID != "team-1" {
			t.Errorf("teamID = %q, want %q", gotTeamID, "team-1")
		}
		if gotLimit != defaultActivityLimit {
			t.Errorf("limit = %d, want %d", gotLimit, defaultActivityLimit)
		}

		var resp []activityLogResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("レスポンスのデコードに失敗: %v", err)
		}
		if len(resp) != 1 || resp[0].Action != model.ActivityCreateTeam {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("正常系_limitクエリを引き渡す", func(t *testing.T) {
		var gotLimit int
		activities := &mockActivityService{
			listByTeamFn: func(_ context.Context, _ string, limit int) ([]*model.ActivityLog, error) {
				gotLimit = limit
				return nil, nil
			},
		}
		handler := NewActivityHandler(activities, &mockTeamViewer{})

		r := withUser(httptest.NewRequest(http.MethodGet, "/api/teams/team-1/activity?limit=10", nil), memberUser())
		r = withChiURLParam(r, "id", "team-1")
		w := httptest.NewRecorder()

		handler.ListByTeam(w, r)

		if gotLimit != 10 {
			t.Errorf("limit = %d, want 10", gotLimit)
		}
	})

	t.Run("異常系_参照権限がない場合は一覧を呼ばない", func(t *testing.T) {
		listCalled := false
		activities := &mockActivityService{
			listByTeamFn: func(_ context.Context, _ string, _ int) ([]*model.ActivityLog, error) {
				listCalled = true
				return nil, nil
			},
		}
		viewer := &mockTeamViewer{
			getFn: func(_ context.Context, _ team.Actor, teamID string) (*model.Team, error) {
				return nil, model.NewTeamNotFoundError(teamID)
			},
		}
		handler := NewActivityHandler(activities, viewer)

		r := withUser(httptest.NewRequest(http.MethodGet, "/api/teams/team-1/activity", nil), memberUser())
		r = withChiURLParam(r, "id", "team-1")
		w := httptest.NewRecorder()

		handler.ListByTeam(w, r)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if listCalled {
			t.Error("参照権限がないのにListByTeamが呼ばれた")
		}
	})
}

func TestActivityHandler_ListMine(t *testing.T) {
	t.Run("正常系_自分のログを返す", func(t *testing.T) {
		var gotUserID string
		activities := &mockActivityService{
			listByUserFn: func(_ context.Context, userID string, _ int) ([]*model.ActivityLog, error) {
				gotUserID = userID
				return []*model.ActivityLog{testActivityLog("log-1")}, nil
			},
		}
		handler := NewActivityHandler(activities, &mockTeamViewer{})

		r := withUser(httptest.NewRequest(http.MethodGet, "/api/users/me/activity", nil), memberUser())
		w := httptest.NewRecorder()

		handler.ListMine(w, r)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if gotUserID != "user-123" {
			t.Errorf("userID = %q, want %q", gotUserID, "user-123")
		}
	})

	t.Run("異常系_未認証で401", func(t *testing.T) {
		handler := NewActivityHandler(&mockActivityService{}, &mockTeamViewer{})

		r := httptest.NewRequest(http.MethodGet, "/api/users/me/activity", nil)
		w := httptest.NewRecorder()

		handler.ListMine(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}
