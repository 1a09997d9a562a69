package dynamo

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	recovery "github.com/pwm-project/pwm-sub000"
	"github.com/pwm-project/pwm-sub000/otp"
	"github.com/pwm-project/pwm-sub000/password"
	"github.com/pwm-project/pwm-sub000/session"
	"github.com/sirupsen/logrus"
)

const (
	keyAttribute             = "user_dn"
	defaultPasswordChangeKey = "pwdChangedTime"
)

// ErrUserMissing is returned when an identified user's item disappeared.
var ErrUserMissing = errors.New("directory user item missing")

// Config configures Directory.
type Config struct {
	Table string
	// SearchFields are the form fields that can locate a user, each backed by a
	// "<field>-index" GSI on a top-level attribute of the same name.
	SearchFields []string
	// PasswordChangeAttribute is the virtual attribute that reads the last password
	// change time. Defaults to pwdChangedTime.
	PasswordChangeAttribute string
	Hash                    password.Config
}

// User is the stored item.
type User struct {
	UserDN            string            `dynamodbav:"user_dn"`
	GUID              string            `dynamodbav:"guid"`
	Search            map[string]string `dynamodbav:"-"`
	Attributes        map[string]string `dynamodbav:"attributes"`
	PasswordHash      string            `dynamodbav:"password_hash,omitempty"`
	Locked            bool              `dynamodbav:"locked"`
	PasswordExpired   bool              `dynamodbav:"password_expired"`
	PasswordChangedAt string            `dynamodbav:"password_changed_at,omitempty"`
	Responses         *StoredResponses  `dynamodbav:"responses,omitempty"`
	OTP               *otp.Record       `dynamodbav:"otp,omitempty"`
}

// StoredResponses is a user's challenge set with hashed answers.
type StoredResponses struct {
	Locale            string            `dynamodbav:"locale,omitempty"`
	MinRandomRequired int               `dynamodbav:"min_random_required"`
	Challenges        []StoredChallenge `dynamodbav:"challenges"`
}

type StoredChallenge struct {
	ID         string `dynamodbav:"id"`
	Text       string `dynamodbav:"text"`
	Required   bool   `dynamodbav:"required"`
	AnswerHash string `dynamodbav:"answer_hash"`
}

// Directory is a DynamoDB-backed recovery directory.
type Directory struct {
	api    API
	cfg    Config
	hasher *password.Argon2
	logger *logrus.Logger
	now    func() time.Time
}

var (
	_ recovery.Directory = (*Directory)(nil)
	_ otp.RecordStore    = (*Directory)(nil)
)

// New validates cfg and returns a Directory.
func New(api API, cfg Config, logger *logrus.Logger) (*Directory, error) {
	if api == nil {
		return nil, errors.New("dynamo directory requires a client")
	}
	if cfg.Table == "" {
		return nil, errors.New("dynamo directory table must be set")
	}
	if len(cfg.SearchFields) == 0 {
		return nil, errors.New("dynamo directory needs at least one search field")
	}
	if cfg.PasswordChangeAttribute == "" {
		cfg.PasswordChangeAttribute = defaultPasswordChangeKey
	}
	if cfg.Hash == (password.Config{}) {
		cfg.Hash = password.DefaultConfig()
	}
	hasher, err := password.NewArgon2(cfg.Hash)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Directory{api: api, cfg: cfg, hasher: hasher, logger: logger, now: time.Now}, nil
}

// Enroll hashes u's plaintext password and answers and stores the item. plaintext may be
// empty to keep u.PasswordHash; answers are keyed by challenge id.
func (d *Directory) Enroll(ctx context.Context, u User, plaintext string, answers map[string]string) error {
	if u.UserDN == "" {
		return errors.New("enroll requires a user DN")
	}
	if plaintext != "" {
		h, err := d.hasher.Hash(plaintext)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = h
	}
	if u.Responses != nil {
		for i, c := range u.Responses.Challenges {
			answer, ok := answers[c.ID]
			if !ok {
				continue
			}
			h, err := d.hasher.HashAnswer(answer)
			if err != nil {
				return fmt.Errorf("hash answer %s: %w", c.ID, err)
			}
			u.Responses.Challenges[i].AnswerHash = h
		}
	}

	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	for field, value := range u.Search {
		item[field] = &types.AttributeValueMemberS{Value: value}
	}
	if _, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.cfg.Table),
		Item:      item,
	}); err != nil {
		return unavailable("put user", err)
	}
	return nil
}

// Search locates exactly one user. The first configured search field present in form
// drives the index query; every other present field must match the item as well. No
// match and ambiguous matches both report recovery.ErrIdentityNotFound.
func (d *Directory) Search(ctx context.Context, profileID string, form map[string]string) (session.Identity, error) {
	lead := ""
	for _, f := range d.cfg.SearchFields {
		if strings.TrimSpace(form[f]) != "" {
			lead = f
			break
		}
	}
	if lead == "" {
		return session.Identity{}, fmt.Errorf("no search field supplied: %w", recovery.ErrIdentityNotFound)
	}

	out, err := d.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(d.cfg.Table),
		IndexName:                 aws.String(lead + "-index"),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": lead},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: strings.TrimSpace(form[lead])}},
		Limit:                     aws.Int32(2),
	})
	if err != nil {
		return session.Identity{}, unavailable("search", err)
	}

	var matches []session.Identity
	for _, raw := range out.Items {
		var u User
		if err := attributevalue.UnmarshalMap(raw, &u); err != nil {
			return session.Identity{}, unavailable("decode search result", err)
		}
		if !matchesForm(raw, form, d.cfg.SearchFields) {
			continue
		}
		matches = append(matches, session.Identity{UserDN: u.UserDN, GUID: u.GUID, ProfileID: profileID})
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return session.Identity{}, fmt.Errorf("search %s: %w", lead, recovery.ErrIdentityNotFound)
	default:
		d.logger.WithFields(logrus.Fields{"component": "dynamo_directory", "field": lead}).Warn("search matched more than one user")
		return session.Identity{}, fmt.Errorf("search %s is ambiguous: %w", lead, recovery.ErrIdentityNotFound)
	}
}

func matchesForm(item map[string]types.AttributeValue, form map[string]string, fields []string) bool {
	for _, f := range fields {
		want := strings.TrimSpace(form[f])
		if want == "" {
			continue
		}
		got, ok := item[f].(*types.AttributeValueMemberS)
		if !ok || !strings.EqualFold(got.Value, want) {
			return false
		}
	}
	return true
}

func (d *Directory) load(ctx context.Context, id session.Identity) (User, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.cfg.Table),
		Key:            strKey(keyAttribute, id.UserDN),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return User{}, unavailable("get user", err)
	}
	if out.Item == nil {
		return User{}, fmt.Errorf("%s: %w", id.UserDN, ErrUserMissing)
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return User{}, unavailable("decode user", err)
	}
	if id.GUID != "" && u.GUID != "" && u.GUID != id.GUID {
		return User{}, fmt.Errorf("%s: guid changed: %w", id.UserDN, ErrUserMissing)
	}
	return u, nil
}

func (d *Directory) ReadAttribute(ctx context.Context, id session.Identity, name string) (string, bool, error) {
	u, err := d.load(ctx, id)
	if err != nil {
		return "", false, err
	}
	if name == d.cfg.PasswordChangeAttribute {
		return u.PasswordChangedAt, u.PasswordChangedAt != "", nil
	}
	v, ok := u.Attributes[name]
	return v, ok, nil
}

// CompareAttribute is case-sensitive and constant time in the value length.
func (d *Directory) CompareAttribute(ctx context.Context, id session.Identity, name, value string) (bool, error) {
	stored, ok, err := d.ReadAttribute(ctx, id, name)
	if err != nil || !ok {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(value)) == 1, nil
}

func (d *Directory) IsLocked(ctx context.Context, id session.Identity) (bool, error) {
	u, err := d.load(ctx, id)
	if err != nil {
		return false, err
	}
	return u.Locked, nil
}

func (d *Directory) IsPasswordExpired(ctx context.Context, id session.Identity) (bool, error) {
	u, err := d.load(ctx, id)
	if err != nil {
		return false, err
	}
	return u.PasswordExpired, nil
}

// ReadResponseSet returns the stored challenge set. The locale is recorded on the set
// but does not select a different one.
func (d *Directory) ReadResponseSet(ctx context.Context, id session.Identity, locale string) (session.ResponseSet, bool, error) {
	u, err := d.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if u.Responses == nil || len(u.Responses.Challenges) == 0 {
		return nil, false, nil
	}
	return &ResponseSet{stored: *u.Responses, locale: locale, hasher: d.hasher}, true, nil
}

func (d *Directory) Unlock(ctx context.Context, id session.Identity) error {
	return d.update(ctx, "unlock", id, map[string]interface{}{"locked": false}, "")
}

func (d *Directory) ExpirePassword(ctx context.Context, id session.Identity) error {
	return d.update(ctx, "expire password", id, map[string]interface{}{"password_expired": true}, "")
}

// SetPassword stores an argon2id hash of value and stamps the change time.
func (d *Directory) SetPassword(ctx context.Context, id session.Identity, value string) error {
	h, err := d.hasher.Hash(value)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return d.update(ctx, "set password", id, map[string]interface{}{
		"password_hash":       h,
		"password_expired":    false,
		"password_changed_at": d.now().UTC().Format(time.RFC3339Nano),
	}, "")
}

// WriteAttributes sets entries of the attributes map.
func (d *Directory) WriteAttributes(ctx context.Context, id session.Identity, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	updates := make(map[string]interface{}, len(values))
	for k, v := range values {
		updates[k] = v
	}
	return d.update(ctx, "write attributes", id, updates, "attributes")
}

func (d *Directory) ReadOTPRecord(ctx context.Context, id session.Identity) (otp.Record, bool, error) {
	u, err := d.load(ctx, id)
	if err != nil {
		return otp.Record{}, false, err
	}
	if u.OTP == nil || u.OTP.Secret == "" {
		return otp.Record{}, false, nil
	}
	return *u.OTP, true, nil
}

// UpdateOTPCounter advances a HOTP counter. It fails when the user has no OTP record.
func (d *Directory) UpdateOTPCounter(ctx context.Context, id session.Identity, counter uint64) error {
	return d.update(ctx, "update otp counter", id, map[string]interface{}{"counter": counter}, "otp")
}

func (d *Directory) update(ctx context.Context, op string, id session.Identity, updates map[string]interface{}, parent string) error {
	ue, err := buildUpdateExpr(updates, parent)
	if err != nil {
		return err
	}
	cond := "attribute_exists(#k)"
	ue.Names["#k"] = keyAttribute
	if parent != "" {
		cond += " AND attribute_exists(#p)"
	}
	_, err = d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.cfg.Table),
		Key:                       strKey(keyAttribute, id.UserDN),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%s %s: %w", op, id.UserDN, ErrUserMissing)
		}
		return unavailable(op, err)
	}
	d.logger.WithFields(logrus.Fields{
		"component": "dynamo_directory",
		"op":        op,
		"user":      id.UserDN,
		"fields":    strings.Join(sortedKeys(updates), ","),
	}).Debug("directory updated")
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
