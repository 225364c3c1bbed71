package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/proctor/internal/game"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/scoring"
	"github.com/pavelanni/proctor/internal/store"
)

func importAll(ctx context.Context, db *store.Store, users, exams, games []string) error {
	if err := importFiles(ctx, db, "users", users, func(ctx context.Context, u model.UserImport) error {
		return importUser(ctx, db, u)
	}); err != nil {
		return fmt.Errorf("import users: %w", err)
	}
	if err := importFiles(ctx, db, "exams", exams, func(ctx context.Context, e model.Exam) error {
		if err := scoring.ValidateExam(e); err != nil {
			return fmt.Errorf("exam %s: %w", e.ID, err)
		}
		return db.UpsertExam(ctx, e)
	}); err != nil {
		return fmt.Errorf("import exams: %w", err)
	}
	if err := importFiles(ctx, db, "games", games, func(ctx context.Context, g model.Game) error {
		if err := game.ValidateDeck(g); err != nil {
			return fmt.Errorf("game %s: %w", g.ID, err)
		}
		return db.UpsertGame(ctx, g)
	}); err != nil {
		return fmt.Errorf("import games: %w", err)
	}
	return nil
}

// importFiles loads each JSON array file once. A file is recorded by its
// SHA-256; an unchanged file is skipped, and so is a changed one, since
// rewriting exams under running attempts would shift answer indexes.
func importFiles[T any](ctx context.Context, db *store.Store, kind string, paths []string, apply func(context.Context, T) error) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("file unchanged, skipping", "kind", kind, "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("file changed since last import, skipping to avoid breaking existing attempts",
				"kind", kind, "path", path)
			continue
		}

		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, it := range items {
			if err := apply(ctx, it); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}

		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported file", "kind", kind, "path", path, "count", len(items))
	}
	return nil
}

// importUser creates u unless the username is taken, then sets its
// classes.
func importUser(ctx context.Context, db *store.Store, u model.UserImport) error {
	switch u.Role {
	case model.UserRoleStudent, model.UserRoleTeacher, model.UserRoleAdmin:
	default:
		return fmt.Errorf("user %s: unknown role %q", u.Username, u.Role)
	}
	existing, err := db.GetUserByUsername(ctx, u.Username)
	if err != nil {
		return err
	}
	id := int64(0)
	if existing != nil {
		id = existing.ID
	} else {
		if u.Password == "" {
			return fmt.Errorf("user %s: password is required", u.Username)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.Username, err)
		}
		name := u.DisplayName
		if name == "" {
			name = u.Username
		}
		id, err = db.CreateUser(ctx, model.User{
			Username:     u.Username,
			DisplayName:  name,
			PasswordHash: string(hash),
			Role:         u.Role,
			Active:       true,
		})
		if err != nil {
			return fmt.Errorf("create user %s: %w", u.Username, err)
		}
	}
	if len(u.Classes) > 0 {
		if err := db.SetUserClasses(ctx, id, u.Classes); err != nil {
			return fmt.Errorf("set classes for %s: %w", u.Username, err)
		}
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or PROCTOR_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
