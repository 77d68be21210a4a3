package benchmarks

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dslovacek55-hash/Reality/internal/database"
	"github.com/dslovacek55-hash/Reality/internal/models"
	"github.com/dslovacek55-hash/Reality/internal/search"
)

// Reference prices per m2 for Czech real estate.
//
// Sources:
//   - CZSO regional averages (csu.gov.cz, 2024/2025)
//   - Prague district data: Deloitte Real Index Q3-Q4 2024
//   - Cadastral area to district mapping: Prague city administration
//
// Static tables are the last layers of the fallback chain; fresher data comes
// from own aggregates and stored benchmark rows.

// Average apartment sale prices per m2 by region (kraj), CZK.
var czsoPricesProdej = map[string]float64{
	"Praha":           140_000, // city-wide average, district data wins for Prague
	"Stredocesky":     58_000,
	"Jihocesky":       44_000,
	"Plzensky":        52_000,
	"Karlovarsky":     27_000,
	"Ustecky":         22_000,
	"Liberecky":       42_000,
	"Kralovehradecky": 43_000,
	"Pardubicky":      42_000,
	"Vysocina":        37_000,
	"Jihomoravsky":    78_000,
	"Olomoucky":       42_000,
	"Zlinsky":         41_000,
	"Moravskoslezsky": 32_000,
}

// Average rent per m2 per month by region, CZK.
var czsoPricesPronajem = map[string]float64{
	"Praha":           380,
	"Stredocesky":     240,
	"Jihocesky":       210,
	"Plzensky":        220,
	"Karlovarsky":     170,
	"Ustecky":         160,
	"Liberecky":       210,
	"Kralovehradecky": 200,
	"Pardubicky":      195,
	"Vysocina":        185,
	"Jihomoravsky":    280,
	"Olomoucky":       200,
	"Zlinsky":         195,
	"Moravskoslezsky": 180,
}

// Prague district-level sale prices per m2 (Praha 1-22), CZK.
var pragueDistrictProdej = map[int]float64{
	1: 200_000, 2: 155_000, 3: 120_000, 4: 110_000, 5: 125_000,
	6: 135_000, 7: 140_000, 8: 115_000, 9: 105_000, 10: 110_000,
	11: 90_000, 12: 95_000, 13: 95_000, 14: 85_000, 15: 85_000,
	16: 90_000, 17: 85_000, 18: 80_000, 19: 80_000, 20: 85_000,
	21: 80_000, 22: 75_000,
}

// Prague district-level rents per m2 per month, CZK.
var pragueDistrictPronajem = map[int]float64{
	1: 450, 2: 400, 3: 370, 4: 340, 5: 360,
	6: 370, 7: 390, 8: 350, 9: 330, 10: 340,
	11: 300, 12: 310, 13: 310, 14: 290, 15: 280,
	16: 300, 17: 280, 18: 270, 19: 270, 20: 280,
	21: 270, 22: 260,
}

// Cadastral area names (diacritics stripped) to Prague district numbers.
var katastralToDistrict = map[string]int{
	"stare-mesto": 1, "nove-mesto": 1, "josefov": 1, "mala-strana": 1, "hradcany": 1,
	"vinohrady": 2, "vysehrad": 2,
	"zizkov": 3,
	"nusle": 4, "podoli": 4, "branik": 4, "lhotka": 4, "krc": 4,
	"michle": 4, "kunratice": 4, "chodov": 4, "haje": 4, "modrany": 4,
	"komorany": 4, "hodkovicky": 4,
	"smichov": 5, "kosire": 5, "motol": 5, "radlice": 5,
	"hlubocepy": 5, "jinonice": 5, "stodulky": 5, "barrandov": 5,
	"butovice": 5, "slivenec": 5, "lipence": 5, "zlicin": 5,
	"reporyje": 5, "lochkov": 5,
	"dejvice": 6, "bubenec": 6, "vokovice": 6, "veleslavin": 6,
	"brevnov": 6, "stresovice": 6, "liboc": 6, "nebusice": 6,
	"suchdol": 6, "lysolaje": 6, "sedlec": 6, "ruzyne": 6,
	"predni-kopanina": 6,
	"holesovice": 7, "letna": 7, "troja": 7, "bubny": 7,
	"karlin": 8, "liben": 8, "kobylisy": 8, "bohnice": 8,
	"dablice": 8, "dolni-chabry": 8, "cimice": 8, "brezineves": 8,
	"vysocany": 9, "prosek": 9, "strizkov": 9, "hloubetin": 9,
	"kbely": 9, "letnany": 9, "cakovice": 9, "vinor": 9,
	"satalice": 9, "klanovice": 9,
	"vrsovice": 10, "strasnice": 10, "zabehlice": 10,
	"hostivar": 10, "uhrineves": 10, "malesice": 10,
	"dolni-mecholupy": 10, "petrovice": 10, "kresice": 10,
	"benice": 10, "kolarov": 10, "kralovice": 10,
}

// Major Czech cities (diacritics stripped, dashed) to their region.
var cityToRegion = map[string]string{
	"praha": "Praha",
	"kladno": "Stredocesky", "mlada-boleslav": "Stredocesky", "pribram": "Stredocesky",
	"kolin": "Stredocesky", "kutna-hora": "Stredocesky", "benesov": "Stredocesky",
	"beroun": "Stredocesky", "melnik": "Stredocesky", "nymburk": "Stredocesky",
	"rakovnik": "Stredocesky", "brandys-nad-labem": "Stredocesky",
	"ceske-budejovice": "Jihocesky", "tabor": "Jihocesky", "pisek": "Jihocesky",
	"strakonice": "Jihocesky", "jindrichuv-hradec": "Jihocesky",
	"cesky-krumlov": "Jihocesky", "prachatice": "Jihocesky",
	"plzen": "Plzensky", "klatovy": "Plzensky", "rokycany": "Plzensky",
	"domazlice": "Plzensky", "tachov": "Plzensky",
	"karlovy-vary": "Karlovarsky", "cheb": "Karlovarsky", "sokolov": "Karlovarsky",
	"marianske-lazne": "Karlovarsky", "frantiskovy-lazne": "Karlovarsky",
	"usti-nad-labem": "Ustecky", "most": "Ustecky", "teplice": "Ustecky",
	"chomutov": "Ustecky", "decin": "Ustecky", "litomerice": "Ustecky",
	"louny": "Ustecky", "litvinov": "Ustecky",
	"liberec": "Liberecky", "jablonec-nad-nisou": "Liberecky",
	"ceska-lipa": "Liberecky", "semily": "Liberecky", "turnov": "Liberecky",
	"hradec-kralove": "Kralovehradecky", "trutnov": "Kralovehradecky",
	"nachod": "Kralovehradecky", "jicin": "Kralovehradecky",
	"rychnov-nad-kneznou": "Kralovehradecky",
	"pardubice": "Pardubicky", "chrudim": "Pardubicky",
	"svitavy": "Pardubicky", "usti-nad-orlici": "Pardubicky",
	"jihlava": "Vysocina", "trebic": "Vysocina", "zdar-nad-sazavou": "Vysocina",
	"havlickuv-brod": "Vysocina", "pelhrimov": "Vysocina",
	"brno": "Jihomoravsky", "znojmo": "Jihomoravsky", "hodonin": "Jihomoravsky",
	"breclav": "Jihomoravsky", "vyskov": "Jihomoravsky", "blansko": "Jihomoravsky",
	"olomouc": "Olomoucky", "prostejov": "Olomoucky", "prerov": "Olomoucky",
	"sumperk": "Olomoucky", "jesenik": "Olomoucky",
	"zlin": "Zlinsky", "kromeriz": "Zlinsky", "uherske-hradiste": "Zlinsky",
	"vsetin": "Zlinsky", "valasske-mezirici": "Zlinsky",
	"ostrava": "Moravskoslezsky", "opava": "Moravskoslezsky",
	"frydek-mistek": "Moravskoslezsky", "karvina": "Moravskoslezsky",
	"novy-jicin": "Moravskoslezsky", "havirov": "Moravskoslezsky",
	"trinec": "Moravskoslezsky", "bruntal": "Moravskoslezsky",
}

// Display names with diacritics for base cities that need them.
var cityDisplayNames = map[string]string{
	"plzen": "Plzeň", "zlin": "Zlín", "tabor": "Tábor", "pisek": "Písek",
	"ceske-budejovice": "České Budějovice", "hradec-kralove": "Hradec Králové",
	"karlovy-vary": "Karlovy Vary", "usti-nad-labem": "Ústí nad Labem",
	"mlada-boleslav": "Mladá Boleslav", "cesky-krumlov": "Český Krumlov",
	"jindrichuv-hradec": "Jindřichův Hradec", "kutna-hora": "Kutná Hora",
	"marianske-lazne": "Mariánské Lázně", "frantiskovy-lazne": "Františkovy Lázně",
	"jablonec-nad-nisou": "Jablonec nad Nisou", "ceska-lipa": "Česká Lípa",
	"rychnov-nad-kneznou": "Rychnov nad Kněžnou",
	"usti-nad-orlici": "Ústí nad Orlicí", "zdar-nad-sazavou": "Žďár nad Sázavou",
	"havlickuv-brod": "Havlíčkův Brod", "pelhrimov": "Pelhřimov",
	"frydek-mistek": "Frýdek-Místek", "novy-jicin": "Nový Jičín",
	"uherske-hradiste": "Uherské Hradiště", "valasske-mezirici": "Valašské Meziříčí",
	"brandys-nad-labem": "Brandýs nad Labem", "pribram": "Příbram",
	"kolin": "Kolín", "benesov": "Benešov", "melnik": "Mělník",
	"rakovnik": "Rakovník", "domazlice": "Domažlice",
	"decin": "Děčín", "litomerice": "Litoměřice", "litvinov": "Litvínov",
	"prerov": "Přerov", "prostejov": "Prostějov", "sumperk": "Šumperk",
	"jesenik": "Jeseník", "kromeriz": "Kroměříž", "vsetin": "Vsetín",
	"hodonin": "Hodonín", "breclav": "Břeclav", "vyskov": "Vyškov",
	"karvina": "Karviná", "havirov": "Havířov", "trinec": "Třinec",
	"bruntal": "Bruntál", "nachod": "Náchod", "jicin": "Jičín",
	"trebic": "Třebíč",
}

// cityKeysByLen holds region keys longest first so prefix matching never
// picks "usti-nad-labem" for "usti-nad-orlici-..." style strings.
var cityKeysByLen = func() []string {
	keys := make([]string, 0, len(cityToRegion))
	for k := range cityToRegion {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}()

// NormalizeCity strips diacritics, lowercases and dashes a city string for
// table lookups.
func NormalizeCity(city string) string {
	folded := search.Fold(strings.TrimSpace(city))
	return strings.ReplaceAll(folded, " ", "-")
}

// BaseCity extracts the base city from a scraped city string, e.g.
// "praha-karlin-krizikova" resolves to "praha".
func BaseCity(city string) string {
	norm := NormalizeCity(city)
	for _, key := range cityKeysByLen {
		if norm == key || strings.HasPrefix(norm, key+"-") {
			return key
		}
	}
	if i := strings.IndexByte(norm, '-'); i > 0 {
		return norm[:i]
	}
	return norm
}

// CityDisplayName renders a base city with its Czech diacritics.
func CityDisplayName(baseCity string) string {
	if name, ok := cityDisplayNames[baseCity]; ok {
		return name
	}
	parts := strings.Split(baseCity, "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}

// IsPragueCadastralArea reports whether a folded, dashed name is a known
// Prague cadastral area.
func IsPragueCadastralArea(name string) bool {
	_, ok := katastralToDistrict[name]
	return ok
}

var pragueDistrictPattern = regexp.MustCompile(`^praha[\s-]+(\d{1,2})`)

// PragueDistrictNumber extracts the administrative district from strings
// like "Praha 5", "Praha 10 - Uhříněves" or "praha-smichov-holeckova".
func PragueDistrictNumber(city string) (int, bool) {
	norm := NormalizeCity(city)

	if m := pragueDistrictPattern.FindStringSubmatch(norm); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 && n <= 22 {
			return n, true
		}
	}

	if rest, ok := strings.CutPrefix(norm, "praha-"); ok {
		var parts []string
		for _, p := range strings.Split(rest, "-") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		for length := 1; length <= len(parts) && length <= 3; length++ {
			candidate := strings.Join(parts[:length], "-")
			if district, ok := katastralToDistrict[candidate]; ok {
				return district, true
			}
		}
	}
	return 0, false
}

// RegionForCity resolves the region (kraj) for a scraped city string.
func RegionForCity(city string) (string, bool) {
	norm := NormalizeCity(city)
	if region, ok := cityToRegion[norm]; ok {
		return region, true
	}
	for _, key := range cityKeysByLen {
		if strings.HasPrefix(norm, key+"-") || strings.HasPrefix(norm, key+" ") {
			return cityToRegion[key], true
		}
	}
	base := BaseCity(city)
	if region, ok := cityToRegion[base]; ok {
		return region, true
	}
	return "", false
}

// StaticReferencePrice answers from the bundled tables only. Prague resolves
// to district data, everything else to the regional average.
func StaticReferencePrice(city, transactionType string) (float64, string, bool) {
	prague := pragueDistrictProdej
	regional := czsoPricesProdej
	if transactionType == "pronajem" {
		prague = pragueDistrictPronajem
		regional = czsoPricesPronajem
	}

	if district, ok := PragueDistrictNumber(city); ok {
		if price, ok := prague[district]; ok {
			return price, fmt.Sprintf("Praha %d (Deloitte)", district), true
		}
	}
	if region, ok := RegionForCity(city); ok {
		if price, ok := regional[region]; ok {
			return price, region + " (CSU)", true
		}
	}
	return 0, "", false
}

// kuStatsMinSamples is the floor below which an own aggregate is considered
// too thin to serve as a reference.
const kuStatsMinSamples = 5

// Service resolves the best available reference price per m2 by walking the
// fallback chain: own cadastral medians, stored benchmark rows, then the
// static tables.
type Service struct {
	db     *database.Database
	logger *logrus.Logger
}

func NewService(db *database.Database, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Service{db: db, logger: logger}
}

// Reference is a resolved reference price with its provenance label.
type Reference struct {
	PriceM2 float64 `json:"price_m2"`
	Label   string  `json:"label"`
}

// ReferencePrice resolves the reference unit price for a city.
//
// For sales: own cadastral median, RealityMix district row, static Deloitte
// district table, static CZSO regional table. For Prague rentals, ministry
// rental rows are checked first.
func (s *Service) ReferencePrice(city, transactionType, propertyType string) (*Reference, bool) {
	district, inPrague := PragueDistrictNumber(city)
	kuCandidates := cadastralCandidates(city)

	if transactionType == "pronajem" && inPrague {
		for _, candidate := range kuCandidates {
			b, err := s.db.LatestBenchmark("mf_rental", candidate, "pronajem")
			if err == nil {
				return &Reference{PriceM2: b.PriceM2, Label: b.Region + " (MF)"}, true
			}
			if !errors.Is(err, database.ErrNotFound) {
				s.logger.WithError(err).Warn("Rental benchmark lookup failed")
			}
		}
	}

	if ref, ok := s.kuMedian(kuCandidates, city, transactionType, propertyType); ok {
		return ref, true
	}

	if inPrague {
		regionName := fmt.Sprintf("praha %d", district)
		b, err := s.db.LatestBenchmark("realitymix", regionName, transactionType)
		if err == nil {
			return &Reference{PriceM2: b.PriceM2, Label: b.Region + " (RealityMix)"}, true
		}
		if !errors.Is(err, database.ErrNotFound) {
			s.logger.WithError(err).Warn("District benchmark lookup failed")
		}
	}

	if price, label, ok := StaticReferencePrice(city, transactionType); ok {
		return &Reference{PriceM2: price, Label: label}, true
	}
	return nil, false
}

// kuMedian finds the own aggregate whose region matches one of the cadastral
// name candidates, preferring the row with the most samples. Matching folds
// diacritics in memory since the names are stored with them.
func (s *Service) kuMedian(kuCandidates []string, city, transactionType, propertyType string) (*Reference, bool) {
	var rows []models.KuPriceStats
	tx := s.db.DB().
		Where("stale = ?", false).
		Where("transaction_type = ?", transactionType).
		Where("sample_count >= ?", kuStatsMinSamples)
	if propertyType != "" {
		tx = tx.Where("property_type = ?", propertyType)
	}
	if err := tx.Order("sample_count DESC").Find(&rows).Error; err != nil {
		s.logger.WithError(err).Warn("Aggregate lookup failed")
		return nil, false
	}
	if len(rows) == 0 {
		return nil, false
	}

	patterns := kuCandidates
	if len(patterns) == 0 {
		patterns = []string{BaseCity(city)}
	}
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		for i := range rows {
			region := strings.ReplaceAll(search.Fold(rows[i].Region), " ", "-")
			if strings.Contains(region, pattern) {
				label := fmt.Sprintf("%s (median, N=%d)", rows[i].Region, rows[i].SampleCount)
				return &Reference{PriceM2: rows[i].MedianPriceM2, Label: label}, true
			}
		}
	}
	return nil, false
}

// cadastralCandidates lists progressively longer cadastral-name guesses
// taken from a Prague city string, district numbers skipped.
func cadastralCandidates(city string) []string {
	norm := NormalizeCity(city)
	rest, ok := strings.CutPrefix(norm, "praha-")
	if !ok {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(rest, "-") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	for len(parts) > 0 && isDigits(parts[0]) {
		parts = parts[1:]
	}
	var candidates []string
	for length := 1; length <= len(parts) && length <= 3; length++ {
		candidate := strings.Join(parts[:length], "-")
		if candidate != "" && !isDigits(candidate) {
			candidates = append(candidates, candidate)
		}
	}
	return candidates
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
