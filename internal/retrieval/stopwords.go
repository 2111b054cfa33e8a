package retrieval

// Stopword sets per language: articles, prepositions, auxiliaries and pure
// laterality terms. Tokens shorter than four characters are dropped before
// this filter applies, so the lists only carry the longer noise words.
var stopwords = map[string]bool{
	// German
	"eine": true, "einer": true, "eines": true, "einem": true, "einen": true,
	"der": true, "die": true, "das": true, "dem": true, "den": true, "des": true,
	"und": true, "oder": true, "mit": true, "ohne": true, "nach": true,
	"wegen": true, "beim": true, "sowie": true, "dann": true, "wird": true,
	"wurde": true, "wurden": true, "sind": true, "wird.": true, "eines.": true,
	"patient": true, "patientin": true, "jahre": true, "jahren": true,
	"minuten": true, "min.": true,
	// French
	"dans": true, "avec": true, "sans": true, "pour": true, "chez": true,
	"une": true, "les": true, "apres": true, "après": true,
	"était": true, "sont": true, "elle": true, "cette": true,
	// Italian
	"della": true, "dello": true, "delle": true, "degli": true, "con": true,
	"senza": true, "per": true, "una": true, "sono": true, "dopo": true,
	// Laterality
	"links": true, "rechts": true, "beidseits": true, "beidseitig": true,
	"bilateral": true, "bilatéral": true, "bilaterale": true,
	"gauche": true, "droite": true, "droit": true,
	"sinistra": true, "destra": true, "sinistro": true, "destro": true,
}

// compoundPrefixes are the German prefixes split off before keyword
// extraction, producing base + split variants. Carried as data so catalogue
// updates can extend them.
var compoundPrefixes = []string{"links", "rechts", "ober", "unter", "innen", "aussen"}

// compoundExclusions are words that start with a prefix but are not
// compounds and must never be split.
var compoundExclusions = map[string]bool{
	"untersuchung": true,
	"unterwegs":    true,
}
