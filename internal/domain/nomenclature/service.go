// Package nomenclature maps RxNorm concept ids to the drug names used in the
// prescribing dataset.
package nomenclature

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/formulary/formulary/internal/domain/prescribing"
	"github.com/formulary/formulary/internal/platform/apperr"
	"github.com/formulary/formulary/internal/platform/rxnav"
)

// NameLimit caps the distinct name pairs returned for one concept.
const NameLimit = 100

var (
	ErrConceptNotFound   = apperr.NotFoundf("rxcui not found in RxNorm")
	ErrLookupUnavailable = fmt.Errorf("rxnorm lookup failed: %w", apperr.ErrUpstream)
)

// ConceptSource resolves concept properties, normally an *rxnav.Client.
type ConceptSource interface {
	Properties(ctx context.Context, rxcui string) (*rxnav.Properties, error)
}

// NameRepository finds brand/generic name pairs containing a term.
type NameRepository interface {
	DrugNames(ctx context.Context, term string, limit int) ([]prescribing.DrugNamePair, error)
}

// Match is the result of a concept lookup.
type Match struct {
	RxCUI       string                     `json:"rxcui"`
	ConceptName string                     `json:"conceptName"`
	SearchTerm  string                     `json:"searchTerm"`
	Names       []prescribing.DrugNamePair `json:"names"`
}

type Service struct {
	concepts ConceptSource
	names    NameRepository
}

func NewService(concepts ConceptSource, names NameRepository) *Service {
	return &Service{concepts: concepts, names: names}
}

// Lookup resolves rxcui through RxNav and searches the prescribing names for
// the first word of the concept name.
func (s *Service) Lookup(ctx context.Context, rxcui string) (*Match, error) {
	if n, err := strconv.ParseInt(rxcui, 10, 64); err != nil || n <= 0 {
		return nil, apperr.Invalidf("rxcui must be a positive integer, got %q", rxcui)
	}

	props, err := s.concepts.Properties(ctx, rxcui)
	switch {
	case errors.Is(err, rxnav.ErrNotFound):
		return nil, ErrConceptNotFound
	case err != nil:
		zerolog.Ctx(ctx).Warn().Err(err).Str("rxcui", rxcui).Msg("rxnav lookup failed")
		return nil, ErrLookupUnavailable
	}

	term := firstWord(props.Name)
	if term == "" {
		return nil, ErrConceptNotFound
	}
	names, err := s.names.DrugNames(ctx, term, NameLimit)
	if err != nil {
		return nil, fmt.Errorf("drug names for %q: %w", term, err)
	}
	if names == nil {
		names = []prescribing.DrugNamePair{}
	}
	return &Match{RxCUI: rxcui, ConceptName: props.Name, SearchTerm: term, Names: names}, nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
