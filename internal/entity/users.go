package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/timetracker/internal/store"
)

// FindOrCreateUser returns the user with the given username, creating it on
// first sighting. Usernames are case-sensitive.
func (r *Repo) FindOrCreateUser(ctx context.Context, username string) (User, error) {
	if username == "" {
		return User{}, errors.New("entity: username is required")
	}

	var user User
	err := r.st.WithTx(ctx, func(ctx context.Context) error {
		found, err := r.GetUserByUsername(ctx, username)
		if err == nil {
			user = found
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		id, err := r.st.Insert(ctx, "users", store.Row{
			"username":   username,
			"is_admin":   0,
			"created_at": FormatTime(r.now()),
		})
		if err != nil {
			return fmt.Errorf("entity: create user %q: %w", username, err)
		}
		user = User{ID: id, Username: username, CreatedAt: r.now()}
		return nil
	})
	return user, err
}

// GetUser fetches a user by id.
func (r *Repo) GetUser(ctx context.Context, id int64) (User, error) {
	return r.scanUser(r.st.QueryRow(ctx,
		`SELECT id, username, is_admin, created_at FROM users WHERE id = ?`, id))
}

// GetUserByUsername fetches a user by its case-sensitive username.
func (r *Repo) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return r.scanUser(r.st.QueryRow(ctx,
		`SELECT id, username, is_admin, created_at FROM users WHERE username = ?`, username))
}

func (r *Repo) scanUser(row *sql.Row) (User, error) {
	var (
		u       User
		admin   int64
		created string
	)
	if err := row.Scan(&u.ID, &u.Username, &admin, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, store.ErrNotFound
		}
		return User{}, err
	}
	u.IsAdmin = admin != 0
	t, err := ParseTime(created)
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = t
	return u, nil
}

// DeleteUser removes a user and cascades through all of its time entries.
// Returned file paths belong to removed captures and are unlinked after the
// transaction commits.
func (r *Repo) DeleteUser(ctx context.Context, id int64) error {
	var files []string
	err := r.st.WithTx(ctx, func(ctx context.Context) error {
		entryIDs, err := r.entryIDs(ctx, `SELECT id FROM time_entries WHERE user_id = ?`, id)
		if err != nil {
			return err
		}
		for _, entryID := range entryIDs {
			removed, err := r.deleteTimeEntryTx(ctx, entryID)
			if err != nil {
				return err
			}
			files = append(files, removed...)
		}
		return r.st.DeleteRow(ctx, "users", id)
	})
	if err != nil {
		return err
	}
	unlinkAll(files)
	return nil
}

// FindOrCreateClient returns the client with the given name, creating it if
// absent.
func (r *Repo) FindOrCreateClient(ctx context.Context, name string) (Client, error) {
	if name == "" {
		return Client{}, errors.New("entity: client name is required")
	}

	var client Client
	err := r.st.WithTx(ctx, func(ctx context.Context) error {
		row := r.st.QueryRow(ctx, `SELECT id, name FROM clients WHERE name = ?`, name)
		if err := row.Scan(&client.ID, &client.Name); err == nil {
			return nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		id, err := r.st.Insert(ctx, "clients", store.Row{"name": name})
		if err != nil {
			return fmt.Errorf("entity: create client %q: %w", name, err)
		}
		client = Client{ID: id, Name: name}
		return nil
	})
	return client, err
}

// GetClient fetches a client by id.
func (r *Repo) GetClient(ctx context.Context, id int64) (Client, error) {
	var c Client
	err := r.st.QueryRow(ctx, `SELECT id, name FROM clients WHERE id = ?`, id).
		Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Client{}, store.ErrNotFound
	}
	return c, err
}

// FindOrCreateProject returns the project with the given (client, name) key,
// creating it if absent.
func (r *Repo) FindOrCreateProject(ctx context.Context, clientID int64, name string) (Project, error) {
	if name == "" {
		return Project{}, errors.New("entity: project name is required")
	}

	var project Project
	err := r.st.WithTx(ctx, func(ctx context.Context) error {
		row := r.st.QueryRow(ctx,
			`SELECT id, client_id, name FROM projects WHERE client_id = ? AND name = ?`, clientID, name)
		if err := row.Scan(&project.ID, &project.ClientID, &project.Name); err == nil {
			return nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		id, err := r.st.Insert(ctx, "projects", store.Row{
			"client_id": clientID,
			"name":      name,
		})
		if err != nil {
			return fmt.Errorf("entity: create project %q: %w", name, err)
		}
		project = Project{ID: id, ClientID: clientID, Name: name}
		return nil
	})
	return project, err
}

// GetProject fetches a project by id.
func (r *Repo) GetProject(ctx context.Context, id int64) (Project, error) {
	var p Project
	err := r.st.QueryRow(ctx, `SELECT id, client_id, name FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.ClientID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, store.ErrNotFound
	}
	return p, err
}

// DeleteProject removes a project and cascades through its time entries.
func (r *Repo) DeleteProject(ctx context.Context, id int64) error {
	var files []string
	err := r.st.WithTx(ctx, func(ctx context.Context) error {
		entryIDs, err := r.entryIDs(ctx, `SELECT id FROM time_entries WHERE project_id = ?`, id)
		if err != nil {
			return err
		}
		for _, entryID := range entryIDs {
			removed, err := r.deleteTimeEntryTx(ctx, entryID)
			if err != nil {
				return err
			}
			files = append(files, removed...)
		}
		return r.st.DeleteRow(ctx, "projects", id)
	})
	if err != nil {
		return err
	}
	unlinkAll(files)
	return nil
}

func (r *Repo) entryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.st.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
