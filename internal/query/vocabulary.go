package query

import "errors"

// Vocabulary is the fixed taxonomy queries are drawn from.
type Vocabulary struct {
	Topics       []string `yaml:"topics" json:"topics"`
	Perspectives []string `yaml:"perspectives" json:"perspectives"`
	Demographics []string `yaml:"demographics" json:"demographics"`
	Forums       []string `yaml:"forums" json:"forums"`
	// Contexts are personal or social framings ("trust in government") used by
	// the "how {context} affects {topic}" template.
	Contexts []string `yaml:"contexts" json:"contexts"`
}

// DefaultVocabulary returns the vaccine-hesitancy taxonomy.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Topics: []string{
			"vaccine reluctance",
			"vaccine side effects",
			"vaccine low coverage",
			"vaccine microchips",
			"vaccine hesitancy",
			"vaccination misinformation",
			"public perception of vaccines",
			"vaccination trends",
			"community engagement in vaccination",
		},
		Perspectives: []string{
			"cultural barriers",
			"religious views",
			"medical concerns",
			"socioeconomic factors",
			"educational background",
		},
		Demographics: []string{
			"rural communities",
			"urban populations",
			"ethnic minorities",
			"young parents",
			"elderly population",
			"developed countries",
			"developing countries",
			"suburban communities",
		},
		Forums: []string{
			"reddit.com",
			"twitter.com",
			"x.com",
			"facebook.com",
			"mumsnet.com",
			"vaccineconfidence.org",
		},
		Contexts: []string{
			"personal knowledge",
			"social media",
			"influence of peers",
			"past experiences",
			"family history",
			"perceived importance of vaccines",
			"access to vaccines",
			"access to healthcare",
			"concern of risk",
			"risk perception",
			"trust",
			"societal norms",
			"cults",
			"religious convictions",
			"morals",
			"trust in government",
		},
	}
}

// Validate reports an error if any list is empty.
func (v Vocabulary) Validate() error {
	var errs []error
	check := func(name string, list []string) {
		if len(list) == 0 {
			errs = append(errs, errors.New("query: empty "+name+" vocabulary"))
		}
	}
	check("topic", v.Topics)
	check("perspective", v.Perspectives)
	check("demographic", v.Demographics)
	check("forum", v.Forums)
	check("context", v.Contexts)
	return errors.Join(errs...)
}

// HasTopic reports whether topic is part of the vocabulary.
func (v Vocabulary) HasTopic(topic string) bool {
	for _, t := range v.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

func (v Vocabulary) clone() Vocabulary {
	cp := func(s []string) []string { return append([]string(nil), s...) }
	return Vocabulary{
		Topics:       cp(v.Topics),
		Perspectives: cp(v.Perspectives),
		Demographics: cp(v.Demographics),
		Forums:       cp(v.Forums),
		Contexts:     cp(v.Contexts),
	}
}
