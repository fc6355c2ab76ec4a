package fetcher

import (
	"errors"
	"fmt"
)

// Family groups error kinds by who is at fault.
type Family int

const (
	// FamilyWebsite errors are about the target and end the fetch.
	FamilyWebsite Family = iota
	// FamilyTool errors come from a local stage; the next stage runs.
	FamilyTool
	// FamilyService errors come from a remote service; the next service runs.
	FamilyService
)

func (f Family) String() string {
	switch f {
	case FamilyWebsite:
		return "website"
	case FamilyTool:
		return "tool"
	case FamilyService:
		return "service"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Kind is a leaf of the error taxonomy.
type Kind int

const (
	KindNotReachable Kind = iota
	KindNotScrapable
	KindPhishingFlagged

	KindBypassClient
	KindArchive
	KindParse

	KindScrapingAnt
	KindScrapeUp
	KindDripCrawler
	KindFlareSolverr
)

var kinds = map[Kind]struct {
	name     string
	family   Family
	sentinel error
}{
	KindNotReachable:    {"not_reachable", FamilyWebsite, ErrNotReachable},
	KindNotScrapable:    {"not_scrapable", FamilyWebsite, ErrNotScrapable},
	KindPhishingFlagged: {"phishing_flagged", FamilyWebsite, ErrPhishingFlagged},
	KindBypassClient:    {"bypass_client", FamilyTool, ErrBypassClient},
	KindArchive:         {"archive", FamilyTool, ErrArchive},
	KindParse:           {"parse", FamilyTool, ErrParse},
	KindScrapingAnt:     {"scrapingant", FamilyService, ErrScrapingAnt},
	KindScrapeUp:        {"scrapeup", FamilyService, ErrScrapeUp},
	KindDripCrawler:     {"dripcrawler", FamilyService, ErrDripCrawler},
	KindFlareSolverr:    {"flaresolverr", FamilyService, ErrFlareSolverr},
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Family returns the family k belongs to. Unknown kinds count as website
// errors so they are never retried.
func (k Kind) Family() Family {
	if info, ok := kinds[k]; ok {
		return info.family
	}
	return FamilyWebsite
}

// Recoverable reports whether the orchestrator moves on to the next stage.
func (k Kind) Recoverable() bool {
	return k.Family() != FamilyWebsite
}

// Family and leaf sentinels. Check with errors.Is(err, fetcher.ErrService).
var (
	ErrWebsite = errors.New("website error")
	ErrTool    = errors.New("scraping tool error")
	ErrService = errors.New("scraping service error")

	ErrNotReachable    = errors.New("website not reachable")
	ErrNotScrapable    = errors.New("website not scrapable")
	ErrPhishingFlagged = errors.New("website flagged as phishing")

	ErrBypassClient = errors.New("bypass client failed")
	ErrArchive      = errors.New("archive lookup failed")
	ErrParse        = errors.New("document parse failed")

	ErrScrapingAnt  = errors.New("scrapingant failed")
	ErrScrapeUp     = errors.New("scrapeup failed")
	ErrDripCrawler  = errors.New("dripcrawler failed")
	ErrFlareSolverr = errors.New("flaresolverr failed")
)

// Challenge causes reported by solver stages.
var (
	// ErrCaptchaChallenge indicates the site has an interactive CAPTCHA.
	ErrCaptchaChallenge = errors.New("captcha challenge detected")
	// ErrAntiBot indicates the site's anti-bot protection blocked the request.
	ErrAntiBot = errors.New("anti-bot protection detected")
	// ErrChallengeTimeout indicates a timeout while waiting for challenge to resolve.
	ErrChallengeTimeout = errors.New("challenge timeout")
	// ErrMissingCredential indicates a service has no API key configured.
	ErrMissingCredential = errors.New("missing credential")
)

var familySentinels = map[Family]error{
	FamilyWebsite: ErrWebsite,
	FamilyTool:    ErrTool,
	FamilyService: ErrService,
}

// Error is a classified fetch failure.
type Error struct {
	Kind   Kind
	Stage  string
	Domain string
	Status int // upstream HTTP status, 0 when none was received
	Err    error
}

// NewError builds an *Error for a stage of fc.
func NewError(kind Kind, stage string, fc *FetchContext, status int, cause error) *Error {
	e := &Error{Kind: kind, Stage: stage, Status: status, Err: cause}
	if fc != nil {
		e.Domain = fc.Domain
	}
	return e
}

func (e *Error) Error() string {
	msg := kinds[e.Kind].sentinel
	if msg == nil {
		msg = fmt.Errorf("%s", e.Kind)
	}
	s := msg.Error()
	if e.Domain != "" {
		s = fmt.Sprintf("%s: %s", e.Domain, s)
	}
	if e.Stage != "" {
		s = fmt.Sprintf("%s (stage %s)", s, e.Stage)
	}
	if e.Status != 0 {
		s = fmt.Sprintf("%s: status %d", s, e.Status)
	}
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches both the leaf sentinel and the family sentinel of e.Kind.
func (e *Error) Is(target error) bool {
	if info, ok := kinds[e.Kind]; ok && target == info.sentinel {
		return true
	}
	return target == familySentinels[e.Kind.Family()]
}

// Recoverable reports whether the fetch continues past this error.
func (e *Error) Recoverable() bool { return e.Kind.Recoverable() }

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}
