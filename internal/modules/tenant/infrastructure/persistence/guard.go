package persistence

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"DeskRelay/internal/modules/tenant/domain"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	accountColumn = "account_id"
	accountField  = "AccountID"

	pgScopeSetting = "app.current_account"
	mysqlScopeVar  = "@app_current_account"
)

type scopeKey struct{}

// scope 绑定在事务 context 上，嵌套调用据此判断是否复用外层事务
type scope struct {
	accountID string
	tx        atomic.Pointer[gorm.DB]
}

// Guard 所有租户数据访问的唯一入口
type Guard struct {
	db *gorm.DB
}

// NewGuard 注册租户过滤回调，同一个 *gorm.DB 只注册一次
func NewGuard(db *gorm.DB) (*Guard, error) {
	if err := registerCallbacks(db); err != nil {
		return nil, err
	}
	return &Guard{db: db}, nil
}

// Exec 单语句访问，同样在短事务内设置作用域，结束后作用域随事务释放
func (g *Guard) Exec(ctx context.Context, accountID string, fn func(tx *gorm.DB) error) error {
	return g.Transaction(ctx, accountID, fn)
}

// Transaction 多语句事务。fn 返回错误或 panic 时回滚，panic 在回滚后重新抛出。
// 同一租户的嵌套调用复用外层事务，不同租户的嵌套调用返回 ErrCrossTenant。
func (g *Guard) Transaction(ctx context.Context, accountID string, fn func(tx *gorm.DB) error) error {
	id, err := domain.NormalizeAccountID(accountID)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if outer, ok := ctx.Value(scopeKey{}).(*scope); ok && outer.tx.Load() != nil {
		if outer.accountID != id {
			zlog.Warn("tenant guard rejected nested cross-tenant transaction",
				zap.String("outer_account_id", outer.accountID),
				zap.String("account_id", id))
			return xerr.ErrCrossTenant
		}
		return fn(outer.tx.Load())
	}

	sc := &scope{accountID: id}
	scopedCtx := domain.WithAccount(context.WithValue(ctx, scopeKey{}, sc), id)
	return g.db.WithContext(scopedCtx).Transaction(func(tx *gorm.DB) (err error) {
		if err := setScope(tx, id); err != nil {
			return fmt.Errorf("set tenant scope: %w", err)
		}
		defer func() {
			if cerr := clearScope(tx); cerr != nil && err == nil {
				err = fmt.Errorf("clear tenant scope: %w", cerr)
			}
		}()
		sc.tx.Store(tx)
		defer sc.tx.Store(nil)
		return fn(tx)
	})
}

// ScopedContext 返回 tx 关联的 context，传给下游以便嵌套调用复用事务
func ScopedContext(tx *gorm.DB) context.Context {
	if tx == nil || tx.Statement == nil || tx.Statement.Context == nil {
		return context.Background()
	}
	return tx.Statement.Context
}

func setScope(tx *gorm.DB, accountID string) error {
	switch tx.Dialector.Name() {
	case "postgres":
		// 第三个参数 true 表示事务级，COMMIT/ROLLBACK 后自动失效
		return tx.Exec("SELECT set_config(?, ?, true)", pgScopeSetting, accountID).Error
	case "mysql":
		return tx.Exec("SET "+mysqlScopeVar+" = ?", accountID).Error
	default:
		return nil
	}
}

// clearScope MySQL 会话变量不随事务结束，必须在归还连接前显式清空
func clearScope(tx *gorm.DB) error {
	if tx.Dialector.Name() != "mysql" {
		return nil
	}
	return tx.Session(&gorm.Session{NewDB: true}).Exec("SET " + mysqlScopeVar + " = NULL").Error
}

func scopeFromStatement(db *gorm.DB) (string, bool) {
	if db.Statement == nil || db.Statement.Context == nil {
		return "", false
	}
	sc, ok := db.Statement.Context.Value(scopeKey{}).(*scope)
	if !ok {
		return "", false
	}
	return sc.accountID, true
}

func tenantOwned(db *gorm.DB) bool {
	return db.Statement.Schema != nil && db.Statement.Schema.LookUpField(accountField) != nil
}

func registerCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	if cb.Query().Get("tenant:filter") != nil {
		return nil
	}
	if err := cb.Create().Before("gorm:create").Register("tenant:stamp", stampAccount); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("tenant:filter", filterAccount); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("tenant:filter", filterAccount); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("tenant:filter", filterAccount); err != nil {
		return err
	}
	return cb.Row().Before("gorm:row").Register("tenant:filter", filterAccount)
}

func filterAccount(db *gorm.DB) {
	id, ok := scopeFromStatement(db)
	if !ok || !tenantOwned(db) {
		return
	}
	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: accountColumn}, Value: id},
	}})
}

// stampAccount 为新行补齐 account_id，已有不同 account_id 的行拒绝写入
func stampAccount(db *gorm.DB) {
	id, ok := scopeFromStatement(db)
	if !ok || !tenantOwned(db) {
		return
	}
	field := db.Statement.Schema.LookUpField(accountField)
	ctx := db.Statement.Context
	rv := db.Statement.ReflectValue

	stamp := func(v reflect.Value) {
		cur, zero := field.ValueOf(ctx, v)
		if zero {
			if err := field.Set(ctx, v, id); err != nil {
				_ = db.AddError(err)
			}
			return
		}
		if s, _ := cur.(string); s != id {
			_ = db.AddError(xerr.ErrCrossTenant)
		}
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			elem := reflect.Indirect(rv.Index(i))
			if elem.Kind() == reflect.Struct {
				stamp(elem)
			}
		}
	case reflect.Struct:
		stamp(rv)
	}
}
