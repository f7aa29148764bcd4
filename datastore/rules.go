package datastore

import (
	"context"
	"fmt"
	"net/url"

	log "github.com/go-pkgz/lgr"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RulesDAO data-access obj for per-domain locator rules
type RulesDAO struct {
	Collection *mongo.Collection
}

// Rule record, entry in mongo. Describes where a site keeps its product
// gallery and how its image elements should be read.
type Rule struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Domain         string             `json:"domain" bson:"domain"`
	MatchURLs      []string           `json:"match_url,omitempty" bson:"match_urls,omitempty"`
	Tag            string             `json:"tag,omitempty" bson:"tag,omitempty"`
	Kind           string             `json:"kind" bson:"kind"` // "id" or "class"
	Value          string             `json:"value" bson:"value"`
	LazyAttrs      []string           `json:"lazy_attrs,omitempty" bson:"lazy_attrs,omitempty"`
	CollectBoth    bool               `json:"collect_both" bson:"collect_both"`
	IncludeAnchors bool               `json:"include_anchors" bson:"include_anchors"`
	Author         string             `json:"author,omitempty" bson:"author,omitempty"`
	User           string             `json:"user" bson:"user"`
	Enabled        bool               `json:"enabled" bson:"enabled"`
}

// Get rule by url, matching enabled rules by domain
func (r RulesDAO) Get(ctx context.Context, rURL string) (Rule, bool) {
	u, err := url.Parse(rURL)
	if err != nil {
		log.Printf("[WARN] failed to parse url=%s, error=%v", rURL, err)
		return Rule{}, false
	}

	q := bson.M{"domain": u.Host, "enabled": true}
	log.Printf("[DEBUG] query %v", q)
	cursor, err := r.Collection.Find(ctx, q)
	if err != nil {
		log.Printf("[DEBUG] no custom rule for %s", rURL)
		return Rule{}, false
	}
	var rules []Rule
	if err = cursor.All(ctx, &rules); err != nil || len(rules) == 0 {
		log.Printf("[DEBUG] no custom rule for %s", rURL)
		return Rule{}, false
	}
	result := rules[0]
	log.Printf("[INFO] found rule for %s = [%v]", rURL, result)
	return result, true
}

// GetByID returns record by id
func (r RulesDAO) GetByID(ctx context.Context, id primitive.ObjectID) (Rule, bool) {
	var rule Rule
	err := r.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rule)
	return rule, err == nil
}

// Save upserts rule by domain and returns one with ID set for inserts
func (r RulesDAO) Save(ctx context.Context, rule Rule) (Rule, error) {
	ch, err := r.Collection.UpdateOne(ctx, bson.M{"domain": rule.Domain},
		bson.M{"$set": rule}, options.Update().SetUpsert(true))
	if err != nil {
		log.Printf("[WARN] failed to save, error=%v, rule=%v", err, rule)
		return rule, err
	}
	if ch.UpsertedID != nil {
		rule.ID = ch.UpsertedID.(primitive.ObjectID)
	}
	return rule, nil
}

// Disable marks enabled=false, by id
func (r RulesDAO) Disable(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.Collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"enabled": false}})
	return err
}

// All returns list of all rules, both enabled and disabled
func (r RulesDAO) All(ctx context.Context) []Rule {
	result := []Rule{}
	cursor, err := r.Collection.Find(ctx, bson.M{})
	if err != nil {
		return result
	}
	if err = cursor.All(ctx, &result); err != nil {
		return []Rule{}
	}
	return result
}

func (s Rule) String() string {
	return fmt.Sprintf("{id=%s, domain=%s, locator=<%s %s=%q>, enabled=%v}",
		s.ID.Hex(), s.Domain, s.Tag, s.Kind, s.Value, s.Enabled)
}
