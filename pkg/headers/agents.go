package headers

// Family is a browser engine family. Header shapes differ per family.
type Family string

const (
	FamilyChrome  Family = "chrome"
	FamilyEdge    Family = "edge"
	FamilyFirefox Family = "firefox"
	FamilySafari  Family = "safari"
)

// chromium reports whether the family sends client hints (Sec-CH-UA).
func (f Family) chromium() bool {
	return f == FamilyChrome || f == FamilyEdge
}

// agent is one desktop user agent together with the values a real
// instance of that browser sends alongside it.
type agent struct {
	UserAgent string
	Family    Family
	Platform  string // Sec-CH-UA-Platform value, unquoted
	Brands    string // Sec-CH-UA value, chromium only
}

// commonAgents is ordered by observed desktop market share, most common
// first. Pool slot i always uses commonAgents[i].
var commonAgents = []agent{
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Family:    FamilyChrome,
		Platform:  "Windows",
		Brands:    `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Family:    FamilyChrome,
		Platform:  "macOS",
		Brands:    `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
		Family:    FamilyEdge,
		Platform:  "Windows",
		Brands:    `"Not_A Brand";v="8", "Chromium";v="120", "Microsoft Edge";v="120"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		Family:    FamilyFirefox,
		Platform:  "Windows",
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		Family:    FamilyChrome,
		Platform:  "Windows",
		Brands:    `"Google Chrome";v="119", "Chromium";v="119", "Not?A_Brand";v="24"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		Family:    FamilySafari,
		Platform:  "macOS",
	},
	{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Family:    FamilyChrome,
		Platform:  "Linux",
		Brands:    `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
		Family:    FamilyFirefox,
		Platform:  "macOS",
	},
	{
		UserAgent: "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		Family:    FamilyFirefox,
		Platform:  "Linux",
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
		Family:    FamilyChrome,
		Platform:  "Windows",
		Brands:    `"Chromium";v="118", "Google Chrome";v="118", "Not=A?Brand";v="99"`,
	},
}

var acceptByFamily = map[Family]string{
	FamilyChrome:  "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
	FamilyEdge:    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
	FamilyFirefox: "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	FamilySafari:  "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
}

// weighted is a value with a relative frequency.
type weighted struct {
	Value  string
	Weight int
}

// languages all use the "ll-RR,..." shape so the region sits at [3:5].
var languages = []weighted{
	{"en-US,en;q=0.9", 40},
	{"en-GB,en;q=0.9", 10},
	{"de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7", 10},
	{"fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7", 7},
	{"es-ES,es;q=0.9,en;q=0.8", 6},
	{"pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7", 5},
	{"it-IT,it;q=0.9,en-US;q=0.8,en;q=0.7", 4},
	{"nl-NL,nl;q=0.9,en-US;q=0.8,en;q=0.7", 3},
	{"pl-PL,pl;q=0.9,en-US;q=0.8,en;q=0.7", 3},
	{"ja-JP,ja;q=0.9,en-US;q=0.8,en;q=0.7", 3},
	{"en-CA,en;q=0.9,fr-CA;q=0.8", 3},
	{"de-AT,de;q=0.9,en;q=0.8", 2},
	{"sv-SE,sv;q=0.9,en-US;q=0.8,en;q=0.7", 2},
	{"cs-CZ,cs;q=0.9,en;q=0.8", 2},
}

// referers are only ever sent for secure targets; browsers drop an https
// referrer on a downgrade to http.
var referers = []weighted{
	{"", 55},
	{"https://www.google.com/", 30},
	{"https://www.bing.com/", 8},
	{"https://duckduckgo.com/", 7},
}

var cacheControl = []weighted{
	{"", 70},
	{"max-age=0", 30},
}
