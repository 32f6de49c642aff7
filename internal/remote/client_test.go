package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kilupskalvis/modsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestHTTPClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/courses/c1/modules", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []models.Module{
			{ID: "a", CourseID: "c1", Position: 1, Title: "Intro"},
			{ID: "b", CourseID: "c1", Position: 2, Title: "Basics"},
		})
	}))
	defer srv.Close()

	mods, err := NewHTTPClient(srv.URL+"/", "tok").Fetch(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, "Basics", mods[1].Title)
}

func TestHTTPClient_Create(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req CreateModuleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Week 1", req.Title)
		writeJSON(w, http.StatusCreated, models.Module{ID: "01H", CourseID: "c1", Position: 3, Title: req.Title})
	}))
	defer srv.Close()

	m, err := NewHTTPClient(srv.URL, "tok").Create(context.Background(), "c1", models.ModuleFields{Title: "Week 1"})
	require.NoError(t, err)
	assert.Equal(t, "01H", m.ID)
	assert.Equal(t, 3, m.Position)
}

func TestHTTPClient_UpdateSendsOnlySetFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v1/modules/m1", r.URL.Path)
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.Equal(t, map[string]any{"title": "New"}, raw)
		writeJSON(w, http.StatusOK, models.Module{ID: "m1", Title: "New", Position: 1})
	}))
	defer srv.Close()

	title := "New"
	m, err := NewHTTPClient(srv.URL, "").Update(context.Background(), "m1", models.ModulePatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "New", m.Title)
}

func TestHTTPClient_Reorder(t *testing.T) {
	var got ReorderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/courses/c1/modules/order", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	positions := []models.PositionUpdate{{ID: "b", Position: 1}, {ID: "a", Position: 2}}
	require.NoError(t, NewHTTPClient(srv.URL, "tok").Reorder(context.Background(), "c1", positions))
	assert.Equal(t, positions, got.Positions)
}

func TestHTTPClient_DeleteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: CodeNotFound, Message: "module not found"})
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL, "tok").Delete(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "module not found", re.UserMessage())
	assert.Equal(t, CodeNotFound, re.Code)
}

func TestHTTPClient_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: CodeConflict, Message: "module list changed"})
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL, "tok").Reorder(context.Background(), "c1", nil)
	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
}

func TestHTTPClient_UnstructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "tok").Fetch(context.Background(), "c1")
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadGateway, re.Status)
	assert.Equal(t, "unknown", re.Code)
	assert.True(t, isTransient(err))
}

func TestHTTPClient_EscapesIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/courses/a%2Fb/modules", r.URL.RawPath)
		writeJSON(w, http.StatusOK, []models.Module{})
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "tok").Fetch(context.Background(), "a/b")
	require.NoError(t, err)
}

func TestAdminClient_Compact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/admin/courses/c1/compact", r.URL.Path)
		assert.Equal(t, "Bearer admin", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, CompactResponse{Course: "c1", Modules: 3, Renumbered: 2})
	}))
	defer srv.Close()

	resp, err := NewAdminClient(srv.URL, "admin").Compact(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Renumbered)
}

func TestAdminClient_Tokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req adminTokenCreateReq
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeJSON(w, http.StatusCreated, AdminTokenCreateResponse{
				Token: "raw", ID: "t1", Courses: req.Courses, Permission: req.Permission,
			})
		case http.MethodGet:
			writeJSON(w, http.StatusOK, []AdminTokenInfo{{ID: "t1", Courses: []string{"c1"}, Permission: "ro"}})
		case http.MethodDelete:
			assert.Equal(t, "/admin/tokens/t1", r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	ac := NewAdminClient(srv.URL, "admin")
	ctx := context.Background()

	created, err := ac.CreateToken(ctx, "ci", []string{"c1"}, "ro")
	require.NoError(t, err)
	assert.Equal(t, "raw", created.Token)
	assert.Equal(t, []string{"c1"}, created.Courses)

	list, err := ac.ListTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.NoError(t, ac.DeleteToken(ctx, "t1"))
}
