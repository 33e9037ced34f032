package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/computor-org/computor/pkg/api"
)

// CreateExampleRepository inserts a new example source.
func (s *Store) CreateExampleRepository(ctx context.Context, repo *api.ExampleRepository) error {
	repo.ID = newID()
	repo.Version = 1
	repo.CreatedAt = s.now()
	repo.UpdatedAt = repo.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO example_repository
		(`+baseColumns+`, name, source_type, source_url, access_credentials, organization_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		repo.ID, repo.Version, repo.CreatedAt, repo.UpdatedAt, repo.CreatedBy, repo.UpdatedBy, repo.Properties,
		repo.Name, repo.SourceType, repo.SourceURL, repo.AccessCredentials, repo.OrganizationID)
	return wrapWriteErr(err, "example repository")
}

// GetExampleRepository loads a repository by id.
func (s *Store) GetExampleRepository(ctx context.Context, id string) (*api.ExampleRepository, error) {
	repo := &api.ExampleRepository{}
	err := s.db.GetContext(ctx, repo, `SELECT `+baseColumns+`, name, source_type, source_url, access_credentials, organization_id
		FROM example_repository WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "example repository", id)
	}
	return repo, nil
}

// CreateExample inserts an example. The identifier is an ltree label and
// must be lowercase; uppercase identifiers are rejected here, not by the
// database.
func (s *Store) CreateExample(ctx context.Context, example *api.Example) error {
	if err := example.Identifier.Validate(); err != nil {
		return validationErr("identifier", err.Error())
	}
	example.ID = newID()
	example.Version = 1
	example.CreatedAt = s.now()
	example.UpdatedAt = example.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO example
		(`+baseColumns+`, example_repository_id, directory, identifier, title, subject, category, version_identifier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		example.ID, example.Version, example.CreatedAt, example.UpdatedAt, example.CreatedBy, example.UpdatedBy,
		example.Properties, example.ExampleRepositoryID, example.Directory, example.Identifier, example.Title,
		example.Subject, example.Category, example.VersionIdentifier)
	return wrapWriteErr(err, "example")
}

const exampleColumns = baseColumns + `, example_repository_id, directory, identifier, title, subject, category, version_identifier`

// GetExample loads an example by id.
func (s *Store) GetExample(ctx context.Context, id string) (*api.Example, error) {
	example := &api.Example{}
	err := s.db.GetContext(ctx, example, `SELECT `+exampleColumns+` FROM example WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "example", id)
	}
	return example, nil
}

// GetExampleByIdentifier looks an example up by its repository-scoped
// identifier.
func (s *Store) GetExampleByIdentifier(ctx context.Context, repositoryID string, identifier api.Path) (*api.Example, error) {
	example := &api.Example{}
	err := s.db.GetContext(ctx, example, `SELECT `+exampleColumns+` FROM example
		WHERE example_repository_id = $1 AND identifier = $2`, repositoryID, identifier)
	if err != nil {
		return nil, getErr(err, "example", identifier.String())
	}
	return example, nil
}

// ListExamples pages through the examples of a repository.
func (s *Store) ListExamples(ctx context.Context, repositoryID string, opts ListOptions) ([]api.Example, error) {
	var examples []api.Example
	err := s.db.SelectContext(ctx, &examples, `SELECT `+exampleColumns+` FROM example
		WHERE example_repository_id = $1 ORDER BY identifier LIMIT $2 OFFSET $3`,
		repositoryID, opts.limit(), opts.skip())
	if err != nil {
		return nil, fmt.Errorf("failed to list examples of repository %s: %w", repositoryID, err)
	}
	return examples, nil
}

const versionColumns = baseColumns + `, example_id, version_tag, version_number, storage_path, meta_yaml, test_yaml`

// CreateExampleVersion appends a new version. A zero VersionNumber is
// assigned max(version_number)+1; explicit numbers must be strictly greater
// than every existing one (the unique constraint rejects reuse).
func (s *Store) CreateExampleVersion(ctx context.Context, version *api.ExampleVersion) error {
	if version.VersionNumber == 0 {
		next, err := s.NextVersionNumber(ctx, version.ExampleID)
		if err != nil {
			return err
		}
		version.VersionNumber = next
	}
	version.ID = newID()
	version.Version = 1
	version.CreatedAt = s.now()
	version.UpdatedAt = version.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO example_version
		(`+baseColumns+`, example_id, version_tag, version_number, storage_path, meta_yaml, test_yaml)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		version.ID, version.Version, version.CreatedAt, version.UpdatedAt, version.CreatedBy, version.UpdatedBy,
		version.Properties, version.ExampleID, version.VersionTag, version.VersionNumber, version.StoragePath,
		version.MetaYaml, version.TestYaml)
	return wrapWriteErr(err, "example version")
}

// NextVersionNumber returns max(version_number)+1 for the example.
func (s *Store) NextVersionNumber(ctx context.Context, exampleID string) (int64, error) {
	var current sql.NullInt64
	err := s.db.GetContext(ctx, &current, `SELECT MAX(version_number) FROM example_version WHERE example_id = $1`, exampleID)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next version number for example %s: %w", exampleID, err)
	}
	return current.Int64 + 1, nil
}

// GetExampleVersion loads a version by id.
func (s *Store) GetExampleVersion(ctx context.Context, id string) (*api.ExampleVersion, error) {
	version := &api.ExampleVersion{}
	err := s.db.GetContext(ctx, version, `SELECT `+versionColumns+` FROM example_version WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "example version", id)
	}
	return version, nil
}

// GetExampleVersionByTag resolves a version tag within an example.
func (s *Store) GetExampleVersionByTag(ctx context.Context, exampleID, tag string) (*api.ExampleVersion, error) {
	version := &api.ExampleVersion{}
	err := s.db.GetContext(ctx, version, `SELECT `+versionColumns+` FROM example_version
		WHERE example_id = $1 AND version_tag = $2`, exampleID, tag)
	if err != nil {
		return nil, getErr(err, "example version", exampleID+"@"+tag)
	}
	return version, nil
}

// LatestExampleVersion returns the version with the maximum version_number,
// which is the authoritative ordering.
func (s *Store) LatestExampleVersion(ctx context.Context, exampleID string) (*api.ExampleVersion, error) {
	version := &api.ExampleVersion{}
	err := s.db.GetContext(ctx, version, `SELECT `+versionColumns+` FROM example_version
		WHERE example_id = $1 ORDER BY version_number DESC LIMIT 1`, exampleID)
	if err != nil {
		return nil, getErr(err, "example version", exampleID+"@latest")
	}
	return version, nil
}

// AddExampleDependency records a directed dependency edge, rejecting edges
// that would close a cycle.
func (s *Store) AddExampleDependency(ctx context.Context, dep *api.ExampleDependency) error {
	if dep.ExampleID == dep.DependsID {
		return validationErr("depends_id", "an example cannot depend on itself")
	}
	// Walk the transitive dependencies of the target; finding the source
	// there means the new edge closes a cycle.
	var cyclic bool
	err := s.db.GetContext(ctx, &cyclic, `WITH RECURSIVE deps AS (
			SELECT depends_id FROM example_dependency WHERE example_id = $1
			UNION
			SELECT d.depends_id FROM example_dependency d JOIN deps ON d.example_id = deps.depends_id
		)
		SELECT EXISTS (SELECT 1 FROM deps WHERE depends_id = $2)`, dep.DependsID, dep.ExampleID)
	if err != nil {
		return fmt.Errorf("failed to check dependency graph: %w", err)
	}
	if cyclic {
		return validationErr("depends_id", "dependency would create a cycle")
	}

	dep.ID = newID()
	dep.Version = 1
	dep.CreatedAt = s.now()
	dep.UpdatedAt = dep.CreatedAt
	_, err = s.db.ExecContext(ctx, `INSERT INTO example_dependency
		(`+baseColumns+`, example_id, depends_id, version_constraint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		dep.ID, dep.Version, dep.CreatedAt, dep.UpdatedAt, dep.CreatedBy, dep.UpdatedBy, dep.Properties,
		dep.ExampleID, dep.DependsID, dep.VersionConstraint)
	return wrapWriteErr(err, "example dependency")
}

// ListExampleDependencies returns the direct dependencies of an example.
func (s *Store) ListExampleDependencies(ctx context.Context, exampleID string) ([]api.ExampleDependency, error) {
	var deps []api.ExampleDependency
	err := s.db.SelectContext(ctx, &deps, `SELECT `+baseColumns+`, example_id, depends_id, version_constraint
		FROM example_dependency WHERE example_id = $1 ORDER BY depends_id`, exampleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies of example %s: %w", exampleID, err)
	}
	return deps, nil
}
