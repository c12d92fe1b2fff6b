package github_impl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/qingyh6/ai/model"
)

func TestFetchChangesKeepsAPIOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/repo/pulls/7/files" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "token ghp_tok" {
			t.Errorf("auth header = %q", got)
		}
		w.Write([]byte(`[
			{"filename": "z.go", "status": "modified", "patch": "@@ -1 +1 @@\n-a\n+b"},
			{"filename": "a.png", "status": "added", "patch": ""},
			{"filename": "b.go", "status": "renamed", "previous_filename": "old/b.go", "patch": "@@ -1 +1 @@\n+x"}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "octo", "repo", 7, "ghp_tok", "headsha", srv.Client())
	diffs, err := c.FetchChanges(context.Background())
	if err != nil {
		t.Fatalf("FetchChanges: %v", err)
	}
	if len(diffs) != 2 {
		t.Fatalf("patchless file should be skipped, got %d diffs", len(diffs))
	}
	if diffs[0].Path != "z.go" || diffs[1].Path != "b.go" {
		t.Errorf("API listing order not preserved: %s then %s", diffs[0].Path, diffs[1].Path)
	}
	if diffs[1].OldPath == nil || *diffs[1].OldPath != "old/b.go" {
		t.Errorf("renamed file should carry its old path: %+v", diffs[1].OldPath)
	}
}

func TestFetchGeneralDataFetchesOldContentAtBaseSHA(t *testing.T) {
	oldContent := base64.StdEncoding.EncodeToString([]byte("package old\n"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/repos/octo/repo/pulls/7":
			w.Write([]byte(`{"base": {"sha": "base1"}}`))
		case "/repos/octo/repo/pulls/7/files":
			w.Write([]byte(`[
				{"filename": "z.go", "status": "modified", "patch": "@@ -1 +1 @@\n-a\n+b"},
				{"filename": "fresh.go", "status": "added", "patch": "@@ -0,0 +1 @@\n+x"},
				{"filename": "b.go", "status": "renamed", "previous_filename": "old/b.go", "patch": "@@ -1 +1 @@\n+x"}
			]`))
		case "/repos/octo/repo/contents/z.go", "/repos/octo/repo/contents/old/b.go":
			if got := r.URL.Query().Get("ref"); got != "base1" {
				t.Errorf("content fetched at ref %q, want the base sha", got)
			}
			w.Write([]byte(`{"size": 12, "encoding": "base64", "content": "` + oldContent + `"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "octo", "repo", 7, "ghp_tok", "headsha", srv.Client())
	files, err := c.FetchGeneralData(context.Background())
	if err != nil {
		t.Fatalf("FetchGeneralData: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("got %d files, want 3", len(files))
	}
	if files[0].OldContent == nil || *files[0].OldContent != "package old\n" {
		t.Errorf("modified file should carry decoded pre-change content: %+v", files[0].OldContent)
	}
	if files[1].Status != "added" || files[1].OldContent != nil {
		t.Errorf("added file must not carry pre-change content: %+v", files[1])
	}
	if files[2].OldContent == nil {
		t.Error("renamed file should fetch content at its previous path")
	}
}

func TestPostInlineCommentTargetsNewLine(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/repo/pulls/7/comments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, "octo", "repo", 7, "ghp_tok", "headsha", srv.Client())
	line := 12
	item := model.ReviewItem{File: "z.go", Lines: model.LineRef{New: &line}, Severity: "high", Category: "Logic", Analysis: "x"}
	if err := c.PostInlineComment(context.Background(), item); err != nil {
		t.Fatalf("PostInlineComment: %v", err)
	}
	if payload["side"] != "RIGHT" || payload["line"] != float64(12) || payload["commit_id"] != "headsha" {
		t.Errorf("unexpected comment payload: %+v", payload)
	}
}

func TestPostInlineCommentFallsBackToGeneral(t *testing.T) {
	var generalBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octo/repo/pulls/7/comments":
			// line no longer exists in the diff
			http.Error(w, `{"message": "line not part of the diff"}`, http.StatusUnprocessableEntity)
		case "/repos/octo/repo/issues/7/comments":
			var p map[string]string
			json.NewDecoder(r.Body).Decode(&p)
			generalBody = p["body"]
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "octo", "repo", 7, "ghp_tok", "headsha", srv.Client())
	line := 12
	item := model.ReviewItem{File: "z.go", Lines: model.LineRef{New: &line}, Severity: "high", Category: "Logic", Analysis: "finding text"}
	if err := c.PostInlineComment(context.Background(), item); err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	if !strings.Contains(generalBody, "z.go:12") || !strings.Contains(generalBody, "finding text") {
		t.Errorf("fallback comment should name the intended target: %q", generalBody)
	}
}

func TestFileScopedItemPostsGeneralComment(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, "octo", "repo", 7, "ghp_tok", "headsha", srv.Client())
	item := model.ReviewItem{File: "z.go", Severity: "info", Category: "Design", Analysis: "file level"}
	if err := c.PostInlineComment(context.Background(), item); err != nil {
		t.Fatalf("PostInlineComment: %v", err)
	}
	if path != "/repos/octo/repo/issues/7/comments" {
		t.Errorf("file-scoped item should go to the issue comments endpoint, got %s", path)
	}
}
