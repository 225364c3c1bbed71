package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/store"
)

func writeJSON(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportAll(t *testing.T) {
	ctx := context.Background()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer db.Close()
	dir := t.TempDir()

	users := writeJSON(t, dir, "users.json", []model.UserImport{
		{Username: "alice", Password: "pw", Role: model.UserRoleStudent, Classes: []string{"5a"}},
		{Username: "tess", Password: "pw", Role: model.UserRoleTeacher},
	})
	exams := writeJSON(t, dir, "exams.json", []model.Exam{{
		ID: "fractions", Title: "Fractions", DurationMinutes: 20, Status: model.ExamPublished,
		Target: model.Target{ClassIDs: []string{"5a"}},
		Questions: []model.Question{
			{Type: model.QuestionMultipleChoice, Prompt: "1/2 + 1/2?", Points: 1, Answers: []string{"1", "2"}},
		},
	}})
	games := writeJSON(t, dir, "games.json", []model.Game{{
		ID: "order", Title: "Planets", Type: model.GameSequence,
		Cards: []model.Card{{Front: "Mercury"}, {Front: "Venus"}, {Front: "Earth"}},
	}})

	if err := importAll(ctx, db, []string{users}, []string{exams}, []string{games}); err != nil {
		t.Fatalf("importAll: %v", err)
	}
	// A second run sees the same hashes and does nothing.
	if err := importAll(ctx, db, []string{users}, []string{exams}, []string{games}); err != nil {
		t.Fatalf("second importAll: %v", err)
	}

	n, err := db.UserCount(ctx)
	if err != nil || n != 2 {
		t.Errorf("user count = %d, %v; want 2", n, err)
	}
	alice, err := db.GetUserByUsername(ctx, "alice")
	if err != nil || alice == nil {
		t.Fatalf("alice: %v", err)
	}
	classes, err := db.ClassesOf(ctx, alice.ID)
	if err != nil || len(classes) != 1 || classes[0] != "5a" {
		t.Errorf("classes = %v, %v", classes, err)
	}
	if _, err := db.GetExam(ctx, "fractions"); err != nil {
		t.Errorf("GetExam: %v", err)
	}
	if _, err := db.GetGame(ctx, "order"); err != nil {
		t.Errorf("GetGame: %v", err)
	}
}

func TestImportRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		users []model.UserImport
		exams []model.Exam
	}{
		{"unknown role", []model.UserImport{{Username: "x", Password: "pw", Role: "wizard"}}, nil},
		{"missing password", []model.UserImport{{Username: "x", Role: model.UserRoleStudent}}, nil},
		{"exam without questions", nil, []model.Exam{{ID: "empty", Title: "Empty", Status: model.ExamPublished}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := store.New(":memory:")
			if err != nil {
				t.Fatalf("store.New: %v", err)
			}
			defer db.Close()
			dir := t.TempDir()
			var users, exams []string
			if tt.users != nil {
				users = []string{writeJSON(t, dir, "users.json", tt.users)}
			}
			if tt.exams != nil {
				exams = []string{writeJSON(t, dir, "exams.json", tt.exams)}
			}
			if err := importAll(context.Background(), db, users, exams, nil); err == nil {
				t.Error("importAll succeeded, want error")
			}
		})
	}
}

func TestSeedAdmin(t *testing.T) {
	ctx := context.Background()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer db.Close()

	if err := seedAdmin(ctx, db, ""); err == nil {
		t.Fatal("seedAdmin without password succeeded on empty database")
	}
	if err := seedAdmin(ctx, db, "root-pw"); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	// Existing users mean no seeding and no password needed.
	if err := seedAdmin(ctx, db, ""); err != nil {
		t.Errorf("seedAdmin on populated database: %v", err)
	}
	admin, err := db.GetUserByUsername(ctx, "admin")
	if err != nil || admin == nil || admin.Role != model.UserRoleAdmin {
		t.Errorf("admin = %+v, %v", admin, err)
	}
}
