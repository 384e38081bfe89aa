package store

import "context"

// Item types with dedicated readers.
const (
	TypeLanguage  = "Language"
	TypeLexeme    = "Lexeme"
	TypeProject   = "Project"
	TypeReference = "BibliographicSource"
)

// GetLanguage reads one Language.
func (s *Store) GetLanguage(ctx context.Context, id string) (*Response, error) {
	return s.GetOne(ctx, Metadata, TypeLanguage, id)
}

// LanguageOptions filters GetLanguages. Set options combine with AND.
type LanguageOptions struct {
	// Permissions keeps languages on which this user holds an explicit role.
	Permissions string

	// Project keeps languages embedded in this project.
	Project string

	// Public keeps only public languages.
	Public bool

	// User keeps languages this user can view: public ones, plus those on
	// which the user holds a role.
	User string
}

// GetLanguages lists languages.
func (s *Store) GetLanguages(ctx context.Context, opts LanguageOptions) (*Response, error) {
	resp, err := s.getLanguages(ctx, opts)
	return s.finish("get_languages", resp, err)
}

func (s *Store) getLanguages(ctx context.Context, opts LanguageOptions) (*Response, error) {
	q, err := s.newQuery(TypeLanguage)
	if err != nil {
		return nil, err
	}
	q.withPermissions(opts.Permissions).
		withProject(opts.Project).
		withPublic(opts.Public).
		withUser(opts.User)
	return s.list(ctx, q)
}

// GetLexeme reads one Lexeme from its language's partition.
func (s *Store) GetLexeme(ctx context.Context, language, id string) (*Response, error) {
	return s.GetOne(ctx, Data, language, id)
}

// LexemeOptions filters GetLexemes.
type LexemeOptions struct {
	Language string
	Project  string
}

// GetLexemes lists lexemes. Without a language it scans the whole data container.
func (s *Store) GetLexemes(ctx context.Context, opts LexemeOptions) (*Response, error) {
	resp, err := s.getLexemes(ctx, opts)
	return s.finish("get_lexemes", resp, err)
}

func (s *Store) getLexemes(ctx context.Context, opts LexemeOptions) (*Response, error) {
	q, err := s.newQuery(TypeLexeme)
	if err != nil {
		return nil, err
	}
	q.withLanguage(opts.Language).withProject(opts.Project)
	return s.list(ctx, q)
}

// GetProject reads one Project.
func (s *Store) GetProject(ctx context.Context, id string) (*Response, error) {
	return s.GetOne(ctx, Metadata, TypeProject, id)
}

// ProjectOptions filters GetProjects.
type ProjectOptions struct {
	// User, if non-nil, keeps projects the user can view.
	// A pointer to "" keeps only public projects.
	User *string
}

// GetProjects lists projects.
func (s *Store) GetProjects(ctx context.Context, opts ProjectOptions) (*Response, error) {
	resp, err := s.getProjects(ctx, opts)
	return s.finish("get_projects", resp, err)
}

func (s *Store) getProjects(ctx context.Context, opts ProjectOptions) (*Response, error) {
	q, err := s.newQuery(TypeProject)
	if err != nil {
		return nil, err
	}
	if opts.User != nil {
		if *opts.User == "" {
			q.withPublicOnly()
		} else {
			q.withUser(*opts.User)
		}
	}
	return s.list(ctx, q)
}

// GetReference reads one bibliographic source.
func (s *Store) GetReference(ctx context.Context, id string) (*Response, error) {
	return s.GetOne(ctx, Metadata, TypeReference, id)
}

// GetReferences lists every bibliographic source.
func (s *Store) GetReferences(ctx context.Context) (*Response, error) {
	resp, err := s.getReferences(ctx)
	return s.finish("get_references", resp, err)
}

func (s *Store) getReferences(ctx context.Context) (*Response, error) {
	q, err := s.newQuery(TypeReference)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, q)
}
