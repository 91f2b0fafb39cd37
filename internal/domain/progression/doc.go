// Package progression implements the EXP, level and coin arithmetic of the bot.
//
// Everything in this package is pure: functions take the current state and
// return the new one, with randomness and time injected by the caller.
//
// Terminology:
//
//   - EXP is the experience accumulated at the current level. It lives in
//     [0, Requirement(level)) after every successful mutation.
//   - Total EXP is EXP plus the cumulative requirement of all lower levels.
//     It only grows while the user progresses and is used for ranking.
//   - A booster is a time bounded 2x multiplier on EXP or coin rewards.
//
// A user at level 0 with 900 EXP who gains 200 EXP ends at level 1 with 100
// EXP, and receives LevelUpReward(0, 1) = 5 coins. Total EXP is 1100 before
// and after the level change.
package progression
