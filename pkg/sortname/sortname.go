// Package sortname builds the keys the catalog orders books by: titles with a
// leading article moved to the end, and authors as "Surname, Given".
package sortname

import (
	"strings"
)

var titleArticles = []string{"The", "A", "An"}

var (
	honorifics   = wordSet("dr", "mr", "mrs", "ms", "mx", "prof", "rev", "fr", "sir", "dame")
	credentials  = wordSet("phd", "psyd", "md", "dds", "jd", "edd", "lld", "mba", "esq")
	generational = wordSet("jr", "sr", "junior", "senior", "ii", "iii", "iv")
)

// Credit lines separate authors with one of these.
var authorSeparators = []string{" & ", " and ", "; ", ", "}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// key folds a name token for lookup: "Ph.D.," and "phd" match.
func key(word string) string {
	return strings.ToLower(strings.NewReplacer(".", "", ",", "").Replace(word))
}

// Title moves a leading article to the end: "The Hobbit" sorts as
// "Hobbit, The". The article keeps its original case.
func Title(title string) string {
	title = strings.TrimSpace(title)
	for _, article := range titleArticles {
		n := len(article) + 1
		if len(title) <= n || !strings.EqualFold(title[:n], article+" ") {
			continue
		}
		if rest := strings.TrimSpace(title[n:]); rest != "" {
			return rest + ", " + title[:len(article)]
		}
	}
	return title
}

// Person turns a display name into "Surname, Given, Suffix". Honorifics and
// credentials are dropped and generational suffixes kept, so
// "Dr. Martin Luther King Jr. PhD" sorts as "King, Martin Luther, Jr.".
// Particles stay with the given name: "Ludwig van Beethoven" sorts as
// "Beethoven, Ludwig van".
func Person(name string) string {
	name = strings.TrimSpace(name)
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return name
	}

	for len(parts) > 1 && honorifics[key(parts[0])] {
		parts = parts[1:]
	}

	var suffixes []string
	for len(parts) > 1 {
		last := parts[len(parts)-1]
		k := key(last)
		if generational[k] {
			suffixes = append([]string{strings.TrimSuffix(last, ",")}, suffixes...)
		} else if !credentials[k] {
			break
		}
		parts = parts[:len(parts)-1]
	}

	surname := strings.TrimSuffix(parts[len(parts)-1], ",")
	given := parts[:len(parts)-1]

	out := surname
	if len(given) > 0 {
		out += ", " + strings.Join(given, " ")
	}
	if len(suffixes) > 0 {
		out += ", " + strings.Join(suffixes, ", ")
	}
	return out
}

// Author returns the sort key for a credit line such as "Terry Pratchett &
// Neil Gaiman". Books sort by their first named author.
func Author(credit string) string {
	first := strings.TrimSpace(credit)
	for _, sep := range authorSeparators {
		head, rest, found := strings.Cut(first, sep)
		if !found {
			continue
		}
		// "Martin Luther King, Jr." is one person, not two.
		if sep == ", " && generational[key(firstWord(rest))] {
			continue
		}
		first = strings.TrimSpace(head)
	}
	return Person(first)
}

func firstWord(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
