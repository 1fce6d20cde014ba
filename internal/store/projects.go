package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// UpsertProject inserts or replaces a project configuration row.
func (s *Store) UpsertProject(p Project) error {
	_, err := s.db.Exec(`
		INSERT INTO orch_projects (id, local_directory, session_name, repository_url)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_directory = excluded.local_directory,
			session_name = excluded.session_name,
			repository_url = excluded.repository_url`,
		p.ID, p.LocalDirectory, p.SessionName, p.RepositoryURL)
	if err != nil {
		return fmt.Errorf("failed to upsert project %s: %w", p.ID, err)
	}
	return nil
}

// GetProject resolves a project configuration by id.
func (s *Store) GetProject(id string) (Project, error) {
	var p Project
	var session, repo sql.NullString
	err := s.db.QueryRow(`
		SELECT id, local_directory, session_name, repository_url
		FROM orch_projects WHERE id = ?`, id).
		Scan(&p.ID, &p.LocalDirectory, &session, &repo)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Project{}, fmt.Errorf("failed to load project %s: %w", id, err)
	}
	p.SessionName = session.String
	p.RepositoryURL = repo.String
	return p, nil
}

// ListProjects returns every configured project ordered by id.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`
		SELECT id, local_directory, session_name, repository_url
		FROM orch_projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		var session, repo sql.NullString
		if err := rows.Scan(&p.ID, &p.LocalDirectory, &session, &repo); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.SessionName = session.String
		p.RepositoryURL = repo.String
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
